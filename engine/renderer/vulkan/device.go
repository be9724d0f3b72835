package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	// One family serves graphics, compute and transfer.
	QueueIndex int32
	Queue      vk.Queue

	CommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Limits     vk.PhysicalDeviceLimits
	Memory     vk.PhysicalDeviceMemoryProperties
	// Features the device supports, and the subset enabled at creation.
	Features        vk.PhysicalDeviceFeatures
	EnabledFeatures vk.PhysicalDeviceFeatures

	Name string
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics    bool
	Compute     bool
	DiscreteGPU bool
}

// deviceScore ranks a physical device, -1 when it cannot be used.
func deviceScore(properties *vk.PhysicalDeviceProperties, queueIndex int32, requirements *VulkanPhysicalDeviceRequirements) int {
	if queueIndex < 0 {
		return -1
	}
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return 3
	case vk.PhysicalDeviceTypeIntegratedGpu:
		if requirements.DiscreteGPU {
			return -1
		}
		return 2
	case vk.PhysicalDeviceTypeVirtualGpu, vk.PhysicalDeviceTypeCpu:
		if requirements.DiscreteGPU {
			return -1
		}
		return 1
	}
	if requirements.DiscreteGPU {
		return -1
	}
	return 0
}

// queueFamily finds a family with every queue capability required.
func queueFamily(device vk.PhysicalDevice, requirements *VulkanPhysicalDeviceRequirements) int32 {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	var want vk.QueueFlags
	if requirements.Graphics {
		want |= vk.QueueFlags(vk.QueueGraphicsBit)
	}
	if requirements.Compute {
		want |= vk.QueueFlags(vk.QueueComputeBit)
	}
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&want == want {
			return int32(i)
		}
	}
	return -1
}

func SelectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return vulkanError("vkEnumeratePhysicalDevices", res)
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrBackendNotAvailable)
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return vulkanError("vkEnumeratePhysicalDevices", res)
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics: true,
		Compute:  true,
	}

	best := -1
	for i := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(physicalDevices[i], &properties)
		properties.Deref()

		index := queueFamily(physicalDevices[i], &requirements)
		score := deviceScore(&properties, index, &requirements)
		core.LogDebug("Device '%s' scored %d (queue family %d).", cString(properties.DeviceName[:]), score, index)
		if score <= best {
			continue
		}
		best = score
		context.Device.PhysicalDevice = physicalDevices[i]
		context.Device.QueueIndex = index
		context.Device.Properties = properties
	}
	if best < 0 {
		return fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrBackendNotAvailable)
	}

	d := context.Device
	d.Name = cString(d.Properties.DeviceName[:])
	d.Limits = d.Properties.Limits
	d.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(d.PhysicalDevice, &d.Memory)
	d.Memory.Deref()
	vk.GetPhysicalDeviceFeatures(d.PhysicalDevice, &d.Features)
	d.Features.Deref()

	core.LogInfo("Selected device: '%s'.", d.Name)
	switch d.Properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"GPU Driver version: %d.%d.%d",
		vk.Version.Major(vk.Version(d.Properties.DriverVersion)),
		vk.Version.Minor(vk.Version(d.Properties.DriverVersion)),
		vk.Version.Patch(vk.Version(d.Properties.DriverVersion)),
	)
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(d.Properties.ApiVersion)),
		vk.Version.Minor(vk.Version(d.Properties.ApiVersion)),
		vk.Version.Patch(vk.Version(d.Properties.ApiVersion)),
	)
	for j := uint32(0); j < d.Memory.MemoryHeapCount; j++ {
		d.Memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(d.Memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(d.Memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
	return nil
}

// portabilitySubset reports whether the device requires
// VK_KHR_portability_subset to be enabled, as MoltenVK does.
func portabilitySubset(device vk.PhysicalDevice) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	extensions := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, extensions); res != vk.Success {
		return false
	}
	for i := range extensions {
		extensions[i].Deref()
		if cString(extensions[i].ExtensionName[:]) == "VK_KHR_portability_subset" {
			return true
		}
	}
	return false
}

func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")
	d := context.Device

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(d.QueueIndex),
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var extensionNames []string
	if portabilitySubset(d.PhysicalDevice) {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	// Request device features the rasterizer states may ask for.
	d.EnabledFeatures = vk.PhysicalDeviceFeatures{
		DepthClamp:       d.Features.DepthClamp,
		FillModeNonSolid: d.Features.FillModeNonSolid,
		DepthBiasClamp:   d.Features.DepthBiasClamp,
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{d.EnabledFeatures},
	}

	var device vk.Device
	if res := vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device); res != vk.Success {
		return vulkanError("vkCreateDevice", res)
	}
	d.LogicalDevice = device
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.QueueIndex), 0, &queue)
	d.Queue = queue
	core.LogInfo("Queue obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(d.QueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
		return vulkanError("vkCreateCommandPool", res)
	}
	d.CommandPool = pool
	core.LogInfo("Command pool created.")
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	d := context.Device
	d.Queue = nil

	if d.CommandPool != nil {
		core.LogInfo("Destroying command pool...")
		vk.DestroyCommandPool(d.LogicalDevice, d.CommandPool, context.Allocator)
		d.CommandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	if d.LogicalDevice != nil {
		vk.DestroyDevice(d.LogicalDevice, context.Allocator)
		d.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	d.PhysicalDevice = nil
	d.QueueIndex = -1
}
