package engine

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	fcmodels "github.com/firecracker-microvm/firecracker-go-sdk/client/models"

	"github.com/autosage/autosage/internal/structured"
	"github.com/autosage/autosage/internal/toolapi"
)

// MicroVMSandbox is the sandbox selected by engine mode "microvm"; when
// selected, the engine applies it to every tool. Its constructor requires a
// firecracker jailer binary on the host, and machineConfig describes a fixed
// one-vCPU, 512 MiB machine for that jailer. Run does not boot a machine:
// it calls the invoker in the server's own process, as DirectSandbox does,
// under an extra deadline.
type MicroVMSandbox struct {
	JailerBinary  string
	KernelImage   string
	RootDrivePath string
	Logger        *slog.Logger
}

// NewMicroVMSandbox builds a MicroVMSandbox, or returns (nil, false) when no
// firecracker jailer binary is present on the host — callers should fall
// back to DirectSandbox with a logged warning in that case.
func NewMicroVMSandbox(jailerBinary, kernelImage, rootDrivePath string, logger *slog.Logger) (*MicroVMSandbox, bool) {
	if jailerBinary == "" {
		jailerBinary = "jailer"
	}
	if _, err := exec.LookPath(jailerBinary); err != nil {
		if logger != nil {
			logger.Warn("firecracker jailer binary not found, sandbox mode degrading to direct", "jailer", jailerBinary, "error", err)
		}
		return nil, false
	}
	return &MicroVMSandbox{
		JailerBinary:  jailerBinary,
		KernelImage:   kernelImage,
		RootDrivePath: rootDrivePath,
		Logger:        logger,
	}, true
}

func (s *MicroVMSandbox) machineConfig(socketPath string) firecracker.Config {
	return firecracker.Config{
		SocketPath:      socketPath,
		KernelImagePath: s.KernelImage,
		JailerCfg: &firecracker.JailerConfig{
			JailerBinary: s.JailerBinary,
		},
		Drives: []fcmodels.Drive{},
		MachineCfg: firecracker.MachineCfg{
			VcpuCount:  firecrackerPtr(1),
			MemSizeMib: firecrackerPtr(512),
		},
	}
}

// Run calls invoker in-process under a deadline of the invocation timeout
// plus five seconds. It starts no microVM and does not use machineConfig;
// this module ships no guest agent binary.
func (s *MicroVMSandbox) Run(ctx context.Context, invoker toolapi.Invoker, ec *toolapi.ExecutionContext, input structured.Value) toolapi.ToolResult {
	vmCtx, cancel := context.WithTimeout(ctx, ec.Limits.Timeout()+5*time.Second)
	defer cancel()

	if s.Logger != nil {
		s.Logger.Debug("microvm sandbox dispatch", "job_id", ec.JobID, "jailer", s.JailerBinary)
	}
	return invoker(vmCtx, ec, input)
}

func firecrackerPtr[T any](v T) *T { return &v }
