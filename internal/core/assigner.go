package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compliance/engine-service/internal/store"
)

// ActorResolver picks the actor that takes over a request for a role.
type ActorResolver interface {
	ResolveActor(ctx context.Context, requestID, role string) (string, error)
}

// RoleQueueResolver hands the request to the role's shared queue, written as
// "role:<role>".
type RoleQueueResolver struct{}

func (RoleQueueResolver) ResolveActor(ctx context.Context, requestID, role string) (string, error) {
	return roleQueue(role), nil
}

// DirectoryResolver maps roles to named actors. Roles missing from the
// directory fall back to the role queue.
type DirectoryResolver struct {
	actors map[string]string
}

func NewDirectoryResolver(actors map[string]string) DirectoryResolver {
	normalized := make(map[string]string, len(actors))
	for role, actor := range actors {
		role, actor = strings.TrimSpace(role), strings.TrimSpace(actor)
		if role != "" && actor != "" {
			normalized[role] = actor
		}
	}
	return DirectoryResolver{actors: normalized}
}

func (d DirectoryResolver) ResolveActor(ctx context.Context, requestID, role string) (string, error) {
	if actor, ok := d.actors[role]; ok {
		return actor, nil
	}
	return roleQueue(role), nil
}

func roleQueue(role string) string {
	return "role:" + role
}

// Assigner reassigns requests for fired escalation tiers to the actor the
// resolver picks for the tier role.
type Assigner struct {
	store    store.RequestStore
	resolver ActorResolver
	now      func() time.Time
}

func NewAssigner(st store.RequestStore, resolver ActorResolver) *Assigner {
	if resolver == nil {
		resolver = RoleQueueResolver{}
	}
	return &Assigner{store: st, resolver: resolver, now: time.Now}
}

func (a *Assigner) Assign(ctx context.Context, requestID, role string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return fmt.Errorf("%w: reassignment role is empty", ErrInvalidInput)
	}
	actor, err := a.resolver.ResolveActor(ctx, requestID, role)
	if err != nil {
		return fmt.Errorf("resolve actor for role %s: %w", role, err)
	}
	return a.store.AssignRequest(ctx, requestID, actor, a.now())
}
