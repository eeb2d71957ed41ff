package composer

import "chatsync/pkg/models"

// Action is one entry of the long-press sheet on a message row.
type Action string

const (
	ActionReply  Action = "reply"
	ActionCopy   Action = "copy"
	ActionReact  Action = "react"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
)

// ActionsFor returns the sheet entries available to identity on a message.
// Deleted rows offer nothing. Reply and react are open to everyone; copy
// needs text content; edit needs an own text-only row; delete needs an own
// row.
func ActionsFor(identity string, m models.Message) []Action {
	if m.Deleted() {
		return nil
	}
	actions := []Action{ActionReply, ActionReact}
	if m.Content != "" {
		actions = append(actions, ActionCopy)
	}
	if m.EditableBy(identity) {
		actions = append(actions, ActionEdit)
	}
	if m.Sender == identity {
		actions = append(actions, ActionDelete)
	}
	return actions
}
