package tableview

import (
	"errors"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

// ErrModalActive is returned when a modal of a different kind is already
// open. Re-opening the active kind refreshes its payload instead.
var ErrModalActive = errors.New("another modal is already open")

// ModalKind tags the active modal.
type ModalKind string

const (
	ModalMerge    ModalKind = "merge"
	ModalDelete   ModalKind = "delete_confirm"
	ModalReport   ModalKind = "report"
	ModalWorkflow ModalKind = "workflow"
)

// NoticeLevel grades an outcome notice.
type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// MergePreview is the merge modal payload: the resolved source rows in
// selection order.
type MergePreview struct {
	Sources []incident.Incident `json:"sources"`
}

// DeletePrompt is the staged delete confirmation. Token must be echoed back
// to accept or decline, so a stale client cannot resolve a newer prompt.
type DeletePrompt struct {
	IDs   []string `json:"ids"`
	Token string   `json:"token"`
}

// WorkflowPrompt is the workflow modal payload: one incident staged from a
// row-level action. The workflow itself is chosen at run time.
type WorkflowPrompt struct {
	Incident incident.Incident `json:"incident"`
}

// Notice is the outcome of the last operation. It rides on the session
// beside the modal, so a failure can be surfaced without tearing down the
// modal the operator is in the middle of.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Modal is a tagged union: Kind selects which payload pointer is set. At
// most one modal exists per session.
type Modal struct {
	Kind     ModalKind        `json:"kind"`
	Merge    *MergePreview    `json:"merge,omitempty"`
	Delete   *DeletePrompt    `json:"delete,omitempty"`
	Report   *incident.Report `json:"report,omitempty"`
	Workflow *WorkflowPrompt  `json:"workflow,omitempty"`
}
