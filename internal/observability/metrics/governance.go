package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type proposalKey struct {
	action string
	status string
}

type executionKey struct {
	action  string
	success string
}

type govCollector struct {
	mu         sync.Mutex
	proposals  map[proposalKey]uint64
	executions map[executionKey]uint64
	cycles     uint64
	cycleSkips uint64
}

var governanceCollector = &govCollector{
	proposals:  make(map[proposalKey]uint64),
	executions: make(map[executionKey]uint64),
}

// ObserveProposal counts a proposal reaching the given status.
func ObserveProposal(action, status string) {
	governanceCollector.mu.Lock()
	governanceCollector.proposals[proposalKey{action: action, status: status}]++
	governanceCollector.mu.Unlock()
}

// ObserveExecution counts a finished execution.
func ObserveExecution(action string, success bool) {
	key := executionKey{action: action, success: "false"}
	if success {
		key.success = "true"
	}
	governanceCollector.mu.Lock()
	governanceCollector.executions[key]++
	governanceCollector.mu.Unlock()
}

// ObserveLearningCycle counts a learning cycle run and how many of its
// phases were skipped due to non-fatal failures.
func ObserveLearningCycle(skippedPhases int) {
	governanceCollector.mu.Lock()
	governanceCollector.cycles++
	governanceCollector.cycleSkips += uint64(skippedPhases)
	governanceCollector.mu.Unlock()
}

func (c *govCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type labelled struct {
		labels string
		value  uint64
	}

	proposals := make([]labelled, 0, len(c.proposals))
	for key, value := range c.proposals {
		proposals = append(proposals, labelled{
			labels: fmt.Sprintf("action=\"%s\",status=\"%s\"", escape(key.action), escape(key.status)),
			value:  value,
		})
	}
	executions := make([]labelled, 0, len(c.executions))
	for key, value := range c.executions {
		executions = append(executions, labelled{
			labels: fmt.Sprintf("action=\"%s\",success=\"%s\"", escape(key.action), key.success),
			value:  value,
		})
	}
	sort.Slice(proposals, func(i, j int) bool { return proposals[i].labels < proposals[j].labels })
	sort.Slice(executions, func(i, j int) bool { return executions[i].labels < executions[j].labels })

	var builder strings.Builder
	builder.Grow(512)

	builder.WriteString("# HELP agentgov_proposals_total Total number of proposals by action and terminal status.\n")
	builder.WriteString("# TYPE agentgov_proposals_total counter\n")
	for _, metric := range proposals {
		builder.WriteString(fmt.Sprintf("agentgov_proposals_total{%s} %d\n", metric.labels, metric.value))
	}

	builder.WriteString("# HELP agentgov_executions_total Total number of executions by action and success.\n")
	builder.WriteString("# TYPE agentgov_executions_total counter\n")
	for _, metric := range executions {
		builder.WriteString(fmt.Sprintf("agentgov_executions_total{%s} %d\n", metric.labels, metric.value))
	}

	builder.WriteString("# HELP agentgov_learning_cycles_total Total number of learning cycles run.\n")
	builder.WriteString("# TYPE agentgov_learning_cycles_total counter\n")
	builder.WriteString(fmt.Sprintf("agentgov_learning_cycles_total %d\n", c.cycles))

	builder.WriteString("# HELP agentgov_learning_cycle_phase_skips_total Learning cycle phases skipped due to non-fatal failures.\n")
	builder.WriteString("# TYPE agentgov_learning_cycle_phase_skips_total counter\n")
	builder.WriteString(fmt.Sprintf("agentgov_learning_cycle_phase_skips_total %d\n", c.cycleSkips))

	return builder.String()
}
