// Command triangle opens a window and drives the frame presentation
// engine with the built-in triangle draw hook.
package main

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/vulkan-go/glfw/v3.3/glfw"
	"github.com/vulkan-go/vulkan"

	"aperture/src/present"
	"aperture/src/render"
)

//go:generate glslc -o ../../shaders/triangle.vert.spv ../../shaders/triangle.vert
//go:generate glslc -o ../../shaders/triangle.frag.spv ../../shaders/triangle.frag

const (
	windowWidth  = 1080
	windowHeight = 720
)

func init() {
	// GLFW and the surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	present.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := run(); err != nil {
		slog.Error("aperture exited", "err", err)
		os.Exit(1)
	}
}

func run() (err error) {
	defer render.CheckError(&err)

	render.OrPanic(glfw.Init())
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	window, err := glfw.CreateWindow(windowWidth, windowHeight, "aperture", nil, nil)
	if err != nil {
		return err
	}
	defer window.Destroy()

	vulkan.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vulkan.Init(); err != nil {
		return err
	}

	dev, err := render.NewDevice(render.Options{
		AppName:            "aperture",
		InstanceExtensions: window.GetRequiredInstanceExtensions(),
		EnableValidation:   os.Getenv("APERTURE_VALIDATION") != "",
	}, func(instance vulkan.Instance) (vulkan.Surface, error) {
		ptr, err := window.CreateWindowSurface(instance, nil)
		if err != nil {
			return vulkan.Surface(vulkan.NullHandle), err
		}
		return vulkan.SurfaceFromPointer(ptr), nil
	})
	if err != nil {
		return err
	}
	defer dev.Destroy()

	sc, err := render.NewSwapchain(dev, window.GetFramebufferSize)
	if err != nil {
		return err
	}
	defer sc.Destroy()

	pipe, err := render.NewPipeline(dev, sc.Format(),
		"shaders/triangle.vert.spv", "shaders/triangle.frag.spv")
	if err != nil {
		return err
	}
	defer pipe.Destroy()

	targets, err := sc.Targets(pipe.RenderPass())
	if err != nil {
		return err
	}
	pool := present.NewPool(targets)
	defer pool.Destroy()

	ctx, err := render.NewContext(dev, sc)
	if err != nil {
		return err
	}
	defer ctx.Destroy()

	pr, err := present.New(ctx, sc, pool, pipe, nil, present.Config{
		RecreatePool: func() error {
			if err := sc.Recreate(); err != nil {
				return err
			}
			targets, err := sc.Targets(pipe.RenderPass())
			if err != nil {
				return err
			}
			// Recreate drops the views onto the retired chain; only
			// then may the chain itself go.
			pool.Recreate(targets)
			sc.ReleaseRetired()
			return nil
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := pr.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return pr.Run(func() bool {
		glfw.PollEvents()
		return !window.ShouldClose()
	})
}
