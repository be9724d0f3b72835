//go:build !(js && wasm)

package webgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
	"github.com/spaghettifunk/prism/engine/renderer/pipelinecache"
)

// pipeline is compiled lazily, one native pipeline per permutation. Shader
// modules and the pipeline layout are shared between permutations.
type pipeline struct {
	desc  metadata.PipelineDescriptor
	built renderer.PipelineBuild

	modules  map[string]hal.ShaderModule
	layout   hal.PipelineLayout
	render   [pipelinecache.PermutationCount]hal.RenderPipeline
	compute  hal.ComputePipeline
	compiled [pipelinecache.PermutationCount]bool
}

func (p *pipeline) module(device hal.Device, stage string, source []byte) (hal.ShaderModule, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("%s has no %s source: %w", p.desc.Name, stage, core.ErrInvalidDescriptor)
	}
	key := string(source)
	if m, ok := p.modules[key]; ok {
		return m, nil
	}
	m, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  p.desc.Name + "." + stage,
		Source: hal.ShaderSource{WGSL: key},
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s shader: %w", p.desc.Name, stage, err)
	}
	if p.modules == nil {
		p.modules = make(map[string]hal.ShaderModule)
	}
	p.modules[key] = m
	return m, nil
}

func (p *pipeline) pipelineLayout(device hal.Device) (hal.PipelineLayout, error) {
	if p.layout != nil {
		return p.layout, nil
	}
	var groups []hal.BindGroupLayout
	if l, ok := p.built.Layout.(*bindGroupLayout); ok && l.entries > 0 {
		groups = append(groups, l.layout)
	}
	layout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.desc.Name,
		BindGroupLayouts: groups,
	})
	if err != nil {
		return nil, err
	}
	p.layout = layout
	return layout, nil
}

func (p *pipeline) compile(device hal.Device, permutation pipelinecache.Permutation) error {
	if p.compiled[permutation] {
		return nil
	}
	layout, err := p.pipelineLayout(device)
	if err != nil {
		return err
	}

	if p.desc.Kind == metadata.PipelineKindCompute {
		if p.compute == nil {
			cs, err := p.module(device, "compute", p.desc.Shader.ComputeSource)
			if err != nil {
				return err
			}
			p.compute, err = device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
				Label:   p.desc.Name,
				Layout:  layout,
				Compute: hal.ComputeState{Module: cs, EntryPoint: ComputeEntryPoint},
			})
			if err != nil {
				return err
			}
		}
		// Compute pipelines do not depend on the Y orientation.
		p.compiled[permutation] = true
		return nil
	}

	desc, err := p.renderDescriptor(device, layout, permutation)
	if err != nil {
		return err
	}
	native, err := device.CreateRenderPipeline(desc)
	if err != nil {
		return err
	}
	p.render[permutation] = native
	p.compiled[permutation] = true
	return nil
}

func (p *pipeline) renderDescriptor(device hal.Device, layout hal.PipelineLayout, permutation pipelinecache.Permutation) (*hal.RenderPipelineDescriptor, error) {
	blend, _ := p.built.Blend.(*blendState)
	ds, _ := p.built.DepthStencil.(*depthStencilState)
	rast, _ := p.built.Rasterizer.(*rasterizerState)
	if blend == nil || ds == nil || rast == nil {
		return nil, fmt.Errorf("%s is missing render states: %w", p.desc.Name, core.ErrInvalidHandle)
	}

	vs, err := p.module(device, "vertex", p.desc.Shader.VertexSource)
	if err != nil {
		return nil, err
	}
	desc := &hal.RenderPipelineDescriptor{
		Label:  p.desc.Name,
		Layout: layout,
		Vertex: hal.VertexState{Module: vs, EntryPoint: VertexEntryPoint},
		Multisample: gputypes.MultisampleState{
			Count:                  rast.sampleCount,
			Mask:                   uint64(blend.sampleMask),
			AlphaToCoverageEnabled: blend.alphaToCoverage,
		},
	}

	desc.Primitive = rast.primitive
	desc.Primitive.Topology = p.desc.Topology
	if permutation == pipelinecache.PermutationFlippedYPosition {
		desc.Primitive.FrontFace = flipFrontFace(desc.Primitive.FrontFace)
	}

	if ds.enabled && p.desc.DepthFormat != gputypes.TextureFormatUndefined {
		state := ds.state
		state.Format = p.desc.DepthFormat
		state.DepthBias = int32(rast.depthBias.ConstantFactor)
		state.DepthBiasSlopeScale = rast.depthBias.SlopeFactor
		state.DepthBiasClamp = rast.depthBias.Clamp
		desc.DepthStencil = &state
	}

	if len(p.desc.Shader.FragmentSource) > 0 && !rastDiscards(p.desc.Rasterizer) {
		fs, err := p.module(device, "fragment", p.desc.Shader.FragmentSource)
		if err != nil {
			return nil, err
		}
		desc.Fragment = &hal.FragmentState{
			Module:     fs,
			EntryPoint: FragmentEntryPoint,
			Targets:    blend.colorTargets(p.desc.ColorFormats),
		}
	}
	return desc, nil
}

func rastDiscards(desc metadata.RasterizerDescriptor) bool {
	return desc.DiscardEnabled
}

func (p *pipeline) destroy(device hal.Device) {
	for i, native := range p.render {
		if native != nil {
			device.DestroyRenderPipeline(native)
			p.render[i] = nil
		}
	}
	if p.compute != nil {
		device.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.layout != nil {
		device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	for key, m := range p.modules {
		device.DestroyShaderModule(m)
		delete(p.modules, key)
	}
	p.compiled = [pipelinecache.PermutationCount]bool{}
}
