package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/nautlabs/skiff/internal/domain"
)

type SubmitPromptInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Prompt string `json:"prompt" minLength:"1" doc:"Prompt text for the worker"`
		Model  string `json:"model,omitempty" doc:"Override the session's model for this and later runs"`
	}
}

type SubmitPromptOutput struct {
	Body *domain.Session
}

type StopSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type StopSessionOutput struct {
	Body *domain.Session
}

type ResolvePermissionInput struct {
	ID        uuid.UUID `path:"id" doc:"Session ID"`
	ToolUseID string    `path:"toolUseID" doc:"Tool-use ID being decided"`
	Body      struct {
		Approve bool `json:"approve" doc:"Whether the tool invocation may proceed"`
	}
}

type ResolvePermissionOutput struct {
	Body struct {
		Resolved bool `json:"resolved" doc:"False when the entry was unknown or already resolved"`
	}
}

type ListPermissionsInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type PermissionView struct {
	ToolUseID string         `json:"tool_use_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input,omitempty"`
}

type ListPermissionsOutput struct {
	Body []PermissionView
}

type UpdateModelInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Model string `json:"model" minLength:"1" doc:"New model identifier"`
	}
}

type UpdateModelOutput struct {
	Body *domain.Session
}

func RegisterRunRoutes(api huma.API, store DataStore, run SessionRunner, sync ConversationSync) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-prompt",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/prompt",
		Summary:     "Start or continue a session run",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *SubmitPromptInput) (*SubmitPromptOutput, error) {
		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		if run.Active(sess.ID) {
			return nil, huma.Error409Conflict("session already has a run in flight")
		}
		if !sess.Status.ValidTransition(domain.SessionStatusRunning) {
			return nil, huma.Error409Conflict("session status " + string(sess.Status) + " cannot start a run")
		}

		if input.Body.Model != "" && input.Body.Model != sess.Model {
			model := input.Body.Model
			if err := store.Sessions().Update(ctx, sess.ID, domain.SessionUpdate{Model: &model}); err != nil {
				return nil, huma.Error500InternalServerError("failed to update model", err)
			}
			sess.Model = model
		}

		// A session that already finished a run continues its external
		// conversation rather than starting a fresh one.
		resume := sess.Status.Terminal() && sess.ConversationID != ""

		if err := run.Start(ctx, sess, input.Body.Prompt, resume); err != nil {
			if errors.Is(err, domain.ErrRunActive) {
				return nil, huma.Error409Conflict("session already has a run in flight")
			}
			if errors.Is(err, domain.ErrWorkerNotFound) {
				return nil, huma.NewError(http.StatusFailedDependency, "worker binary not found")
			}
			return nil, huma.Error500InternalServerError("failed to start run", err)
		}

		sess, err = store.Sessions().GetByID(ctx, sess.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to reload session", err)
		}

		return &SubmitPromptOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/stop",
		Summary:     "Abort a session's run",
		Description: "Requests graceful interruption of the worker and returns immediately; no terminal status event is emitted for an aborted run.",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *StopSessionInput) (*StopSessionOutput, error) {
		if err := run.Stop(ctx, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session has no run in flight")
			}
			return nil, huma.Error500InternalServerError("failed to stop run", err)
		}

		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		return &StopSessionOutput{Body: sess}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-permissions",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/permissions",
		Summary:     "List pending permission requests",
		Tags:        []string{"Permissions"},
	}, func(_ context.Context, input *ListPermissionsInput) (*ListPermissionsOutput, error) {
		pending := run.Pending(input.ID)

		views := make([]PermissionView, 0, len(pending))
		for _, p := range pending {
			views = append(views, PermissionView{
				ToolUseID: p.ToolUseID,
				ToolName:  p.ToolName,
				ToolInput: p.ToolInput,
			})
		}

		return &ListPermissionsOutput{Body: views}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-permission",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/permissions/{toolUseID}",
		Summary:     "Resolve a pending permission request",
		Description: "Resolving an unknown or already-resolved request is a no-op, not an error.",
		Tags:        []string{"Permissions"},
	}, func(_ context.Context, input *ResolvePermissionInput) (*ResolvePermissionOutput, error) {
		resolved := run.Resolve(input.ID, input.ToolUseID, input.Body.Approve)

		out := &ResolvePermissionOutput{}
		out.Body.Resolved = resolved
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-session-model",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}/model",
		Summary:     "Update a session's model",
		Description: "Updates both the session record and the stored default model in the external conversation log when one exists.",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *UpdateModelInput) (*UpdateModelOutput, error) {
		sess, err := store.Sessions().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		model := input.Body.Model
		if err := store.Sessions().Update(ctx, sess.ID, domain.SessionUpdate{Model: &model}); err != nil {
			return nil, huma.Error500InternalServerError("failed to update model", err)
		}
		sess.Model = model

		if sess.WorkingDir != "" {
			err := sync.UpdateModel(ctx, sess.WorkingDir, model)
			if err != nil && !errors.Is(err, domain.ErrNoConversation) {
				return nil, huma.Error500InternalServerError("failed to update conversation log model", err)
			}
		}

		return &UpdateModelOutput{Body: sess}, nil
	})
}
