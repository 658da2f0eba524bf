package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ContainerSpec describes the algorithm image to provision a sandbox for.
type ContainerSpec struct {
	ContainerName  string
	AlgorithmImage string
	DatasetURL     string // optional, mounted at /data when set
}

const verifySuccessMarker = "容器状态检查成功"

// Provision removes any stale container with the same name, starts a
// fresh one from AlgorithmImage, and verifies it came up healthy. It
// mirrors original_source/agents/execution_agent.py's setup_algorithm_container:
// a single bash script does the removal + run + inspect, executed as one
// execute_script call so the daemon doesn't need a multi-step API.
func (s *Session) Provision(ctx context.Context, spec ContainerSpec) error {
	var datasetMount string
	if spec.DatasetURL != "" {
		datasetMount = fmt.Sprintf("-v %s:/data", spec.DatasetURL)
	}

	script := fmt.Sprintf(`
set -e
EXISTING=$(docker ps -a --filter name=%[1]s -q)
if [ -n "$EXISTING" ]; then
  docker rm -f %[1]s
fi
docker run --gpus=all -itd --privileged \
  -v /etc/localtime:/etc/localtime:ro \
  -e LANG=C.UTF-8 \
  --name %[1]s %[2]s %[3]s
sleep 2
RUNNING=$(docker inspect -f '{{.State.Running}}' %[1]s)
if [ "$RUNNING" != "true" ]; then
  docker logs %[1]s
  exit 1
fi
`, spec.ContainerName, datasetMount, spec.AlgorithmImage)

	res, err := s.ExecuteScript(ctx, script)
	if err != nil {
		return fmt.Errorf("sandbox: provision %s: %w", spec.ContainerName, err)
	}
	if !res.Success {
		return fmt.Errorf("sandbox: provision %s: container did not start: %s", spec.ContainerName, res.FullOutput)
	}

	time.Sleep(3 * time.Second)
	return s.Verify(ctx, spec.ContainerName)
}

// Verify runs a short health-check script inside the container and checks
// for the success marker in its stdout.
func (s *Session) Verify(ctx context.Context, containerName string) error {
	script := fmt.Sprintf(`
if docker exec %s true; then
  echo "容器状态检查成功"
else
  echo "容器状态检查失败"
fi
`, containerName)

	res, err := s.ExecuteScript(ctx, script)
	if err != nil {
		return fmt.Errorf("sandbox: verify %s: %w", containerName, err)
	}
	if !strings.Contains(res.Stdout, verifySuccessMarker) {
		return fmt.Errorf("sandbox: verify %s: health check failed: %s", containerName, res.FullOutput)
	}
	return nil
}

// Release stops and removes the container, freeing host resources once an
// Execution run has finished with it.
func (s *Session) Release(ctx context.Context, containerName string) error {
	res, err := s.ExecuteCommand(ctx, fmt.Sprintf("docker rm -f %s", containerName))
	if err != nil {
		return fmt.Errorf("sandbox: release %s: %w", containerName, err)
	}
	if !res.Success {
		return fmt.Errorf("sandbox: release %s: %s", containerName, res.FullOutput)
	}
	return nil
}
