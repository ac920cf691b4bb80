package agent

import (
	"strings"

	"github.com/docker/go-connections/nat"
)

// DeployRequest is the JSON body sent to the agent's reinstall and
// redeploy endpoints. It reissues the instance's image, resource limits,
// environment and port layout. The port maps keep the Docker wire names
// the agent expects.
type DeployRequest struct {
	Name         string      `json:"name"`
	Image        string      `json:"image"`
	Memory       int64       `json:"memory"`
	CPU          float64     `json:"cpu"`
	Env          []string    `json:"env,omitempty"`
	ExposedPorts nat.PortSet `json:"ExposedPorts,omitempty"`
	PortBindings nat.PortMap `json:"PortBindings,omitempty"`
	VolumeID     string      `json:"volume_id"`
	Primary      bool        `json:"primary"`
}

// EditRequest is the JSON body sent to the agent's edit endpoint. Only
// the fields being changed are set.
type EditRequest struct {
	Image  *string  `json:"image,omitempty"`
	Memory *int64   `json:"memory,omitempty"`
	CPU    *float64 `json:"cpu,omitempty"`
}

// renameRequest is the JSON body of the best-effort rename notification.
type renameRequest struct {
	Name string `json:"name"`
}

// ParsePortMappings translates the comma-separated "container:host" port
// string into the agent's exposed-port and port-binding maps. Segments
// missing either side are skipped.
func ParsePortMappings(ports string) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet)
	bindings := make(nat.PortMap)

	for _, segment := range strings.Split(ports, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		parts := strings.Split(segment, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}

		port := nat.Port(parts[0] + "/tcp")
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: parts[1]})
	}

	return exposed, bindings
}
