package deploy

import (
	"fmt"

	"github.com/yoanbernabeu/hostdeploy/internal/constants"
	"github.com/yoanbernabeu/hostdeploy/internal/remote"
	"github.com/yoanbernabeu/hostdeploy/internal/security"
)

// composeCommand runs a compose subcommand for the reserved project inside
// the application directory.
func composeCommand(compose, file, sub string) string {
	return fmt.Sprintf("cd %s && %s -p %s -f %s %s",
		security.ShellEscape(constants.RemoteAppDir), compose, constants.ComposeProject, security.ShellEscape(file), sub)
}

// containerIDsStep prints the ID of the reserved container, running or not.
func containerIDsStep() remote.Step {
	return remote.Step{
		Name:       "find container",
		Command:    fmt.Sprintf("docker ps -aq --filter name=^%s$", constants.ContainerName),
		Privileged: true,
	}
}

// removeContainerStep force-removes the reserved container.
func removeContainerStep() remote.Step {
	return remote.Step{
		Name:       "remove container",
		Command:    "docker rm -f " + constants.ContainerName,
		Policy:     remote.BestEffort,
		Privileged: true,
	}
}

func imageExistsStep() remote.Step {
	return remote.Step{
		Name:       "find image",
		Command:    "docker image inspect " + constants.ImageName + " >/dev/null 2>&1",
		Privileged: true,
	}
}

func removeImageStep() remote.Step {
	return remote.Step{
		Name:       "remove image",
		Command:    "docker rmi " + constants.ImageName,
		Policy:     remote.BestEffort,
		Privileged: true,
	}
}

// containerLogsStep tails the reserved container, or the compose project
// when compose is set.
func containerLogsStep(compose, file string) remote.Step {
	step := remote.Step{
		Name:       "container logs",
		Command:    fmt.Sprintf("docker logs --tail %d %s 2>&1", constants.ContainerLogLines, constants.ContainerName),
		Policy:     remote.BestEffort,
		Privileged: true,
	}
	if compose != "" {
		step.Command = composeCommand(compose, file, fmt.Sprintf("logs --no-color --tail %d", constants.ContainerLogLines))
	}
	return step
}
