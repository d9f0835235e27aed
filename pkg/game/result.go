package game

import "github.com/port4k/port4k/pkg/world"

// InventoryDelta reports items gained and lost by one command.
type InventoryDelta struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Notice is one side-channel event for structured clients.
type Notice struct {
	Kind string            `json:"kind"`
	Text string            `json:"text,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// CommandResult is the transport-neutral output of one command. Byte
// clients render Text with CRLF and print Prompt; structured clients
// additionally apply Diffs and Inventory to their local model.
type CommandResult struct {
	Text      string          `json:"text"`
	Diffs     *world.Delta    `json:"diffs,omitempty"`
	Inventory *InventoryDelta `json:"inventory,omitempty"`
	Prompt    string          `json:"prompt,omitempty"`
	Notify    []Notice        `json:"notify,omitempty"`

	// Version of the room state after commit, for client-side reconciliation.
	Version uint64 `json:"version,omitempty"`

	// Quit asks the transport to close the connection after delivery.
	Quit bool `json:"-"`
}

func textResult(text string) *CommandResult {
	return &CommandResult{Text: text}
}
