package agent

import (
	"fmt"
	"sort"

	"simwatch/internal/constants"
	"simwatch/internal/mq"
	pkgerrors "simwatch/pkg/errors"
)

// Definition binds an agent name to the queue it consumes.
type Definition struct {
	Name        string
	Queue       mq.Queue
	Description string
}

// Types lists the message types the agent must handle.
func (d Definition) Types() []mq.Type { return d.Queue.Types() }

var definitions = map[string]Definition{
	constants.AgentMonitoring:  {constants.AgentMonitoring, mq.QueueMonitoring, "job and post-processing lifecycle"},
	constants.AgentConso:       {constants.AgentConso, mq.QueueConso, "resource consumption reports"},
	constants.AgentSupervision: {constants.AgentSupervision, mq.QueueSupervision, "late job detection"},
	constants.AgentAlert:       {constants.AgentAlert, mq.QueueAlert, "operator alerts"},
	constants.AgentCV:          {constants.AgentCV, mq.QueueCV, "controlled vocabulary drafts"},
	constants.AgentFrontEnd:    {constants.AgentFrontEnd, mq.QueueFrontEnd, "front end notifications"},
}

// Definitions returns every agent sorted by name.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup resolves an agent name given on the command line.
func Lookup(name string) (Definition, error) {
	d, ok := definitions[name]
	if !ok {
		names := make([]string, 0, len(definitions))
		for _, def := range Definitions() {
			names = append(names, def.Name)
		}
		return Definition{}, pkgerrors.ErrConfig.WithMessage("unknown agent %q (valid: %v)", name, names)
	}
	return d, nil
}

func (d Definition) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Queue)
}
