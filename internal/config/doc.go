// Package config provides centralized configuration management for the
// AgentGov runtime: the review API server, ledger and learning stores, the
// execution dispatch queue, and the learning-cycle scheduler. Configuration
// is a single JSON document; the action catalog lives in a separate YAML
// file referenced from it.
package config
