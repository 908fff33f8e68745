package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/echotools/vrcompanion/server/vrc"
)

// Identity pairs an ephemeral actor with its durable user identity.
type Identity struct {
	UserID      string
	DisplayName string
}

// IdentityResolver maps ephemeral per-connection actor handles to durable
// user identities. Two parallel maps are kept: every handle seen this
// session, and the handles currently occupying the instance, because
// protocol join/leave and presence-roster membership arrive on different
// channels and reconcile independently. CurrentHandles is always a subset
// of AllHandles.
type IdentityResolver struct {
	logger *zap.Logger
	cache  *IdentityCache

	// post re-enters the engine loop from fetch goroutines.
	post func(func())

	allHandles     map[vrc.ActorID]*Identity
	currentHandles map[vrc.ActorID]*Identity

	// Events that arrived before their handle resolved, replayed the
	// moment resolution completes.
	pendingModeration map[vrc.ActorID][]*vrc.ModerationAction
	pendingAvatars    map[vrc.ActorID][]*vrc.AvatarDescriptor

	// onResolved is invoked once per handle when its durable id becomes
	// known, before queued events replay.
	onResolved   func(vrc.ActorID, Identity)
	onModeration func(vrc.ActorID, Identity, *vrc.ModerationAction)
	onAvatar     func(vrc.ActorID, Identity, *vrc.AvatarDescriptor)
}

func NewIdentityResolver(logger *zap.Logger, cache *IdentityCache, post func(func())) *IdentityResolver {
	return &IdentityResolver{
		logger:            logger,
		cache:             cache,
		post:              post,
		allHandles:        make(map[vrc.ActorID]*Identity),
		currentHandles:    make(map[vrc.ActorID]*Identity),
		pendingModeration: make(map[vrc.ActorID][]*vrc.ModerationAction),
		pendingAvatars:    make(map[vrc.ActorID][]*vrc.AvatarDescriptor),
	}
}

// SetHooks wires the replay callbacks. Must be called before any event is
// observed.
func (r *IdentityResolver) SetHooks(
	onResolved func(vrc.ActorID, Identity),
	onModeration func(vrc.ActorID, Identity, *vrc.ModerationAction),
	onAvatar func(vrc.ActorID, Identity, *vrc.AvatarDescriptor),
) {
	r.onResolved = onResolved
	r.onModeration = onModeration
	r.onAvatar = onAvatar
}

// Lookup returns the identity for a handle if it has been seen.
func (r *IdentityResolver) Lookup(actor vrc.ActorID) (*Identity, bool) {
	id, ok := r.allHandles[actor]
	return id, ok
}

// Current returns the identity for a handle currently in the instance.
func (r *IdentityResolver) Current(actor vrc.ActorID) (*Identity, bool) {
	id, ok := r.currentHandles[actor]
	return id, ok
}

// CurrentHandles returns the handles currently occupying the instance.
func (r *IdentityResolver) CurrentHandles() []vrc.ActorID {
	handles := make([]vrc.ActorID, 0, len(r.currentHandles))
	for actor := range r.currentHandles {
		handles = append(handles, actor)
	}
	return handles
}

// Resolve registers a handle with whatever identity the join hint
// carries. If the hint names a durable id, resolution completes
// immediately; otherwise the handle stays unresolved until a later hint or
// directory fetch supplies the id. Either way the handle enters both maps.
func (r *IdentityResolver) Resolve(actor vrc.ActorID, hint vrc.IdentityHint) {
	identity, ok := r.allHandles[actor]
	if !ok {
		identity = &Identity{DisplayName: hint.DisplayName}
		r.allHandles[actor] = identity
	}
	r.currentHandles[actor] = identity
	if hint.DisplayName != "" {
		identity.DisplayName = hint.DisplayName
	}

	if identity.UserID != "" {
		return
	}
	if hint.UserID == "" {
		r.logger.Debug("Join hint carried no durable id, deferring resolution", zap.Int32("actor", int32(actor)))
		return
	}
	identity.UserID = hint.UserID
	r.completeResolution(actor, *identity, hint)
}

// OnLeave drops the handle from the current-instance map only; the
// all-handles map keeps it for late event resolution.
func (r *IdentityResolver) OnLeave(actor vrc.ActorID) {
	delete(r.currentHandles, actor)
}

// Reset clears the per-instance map on a session swap. AllHandles is kept
// for the lifetime of the connection.
func (r *IdentityResolver) Reset() {
	r.currentHandles = make(map[vrc.ActorID]*Identity)
}

// QueueModeration holds a moderation event for an unresolved handle.
func (r *IdentityResolver) QueueModeration(actor vrc.ActorID, msg *vrc.ModerationAction) {
	r.pendingModeration[actor] = append(r.pendingModeration[actor], msg)
}

// QueueAvatar holds an avatar descriptor for an unresolved handle.
func (r *IdentityResolver) QueueAvatar(actor vrc.ActorID, avatar *vrc.AvatarDescriptor) {
	r.pendingAvatars[actor] = append(r.pendingAvatars[actor], avatar)
}

func (r *IdentityResolver) completeResolution(actor vrc.ActorID, identity Identity, hint vrc.IdentityHint) {
	if cached, ok := r.cache.Peek(identity.UserID); ok {
		// A stale partial hint must not clobber a full profile; only the
		// avatar fields refresh when the hint disagrees.
		if hint.AvatarImageURL != "" && hint.AvatarImageURL != cached.AvatarImageURL {
			r.cache.UpdateAvatarFields(identity.UserID, "", hint.AvatarImageURL)
		}
	} else {
		// Cache miss: warm the cache off-loop. The fetch is coalesced per
		// id by the cache, so concurrent joins cost one request.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := r.cache.GetUser(ctx, identity.UserID); err != nil {
				r.post(func() {
					r.logger.Warn("Identity prefetch failed", zap.String("user_id", identity.UserID), zap.Error(err))
				})
			}
		}()
	}

	if r.onResolved != nil {
		r.onResolved(actor, identity)
	}
	for _, msg := range r.pendingModeration[actor] {
		r.onModeration(actor, identity, msg)
	}
	delete(r.pendingModeration, actor)
	for _, avatar := range r.pendingAvatars[actor] {
		r.onAvatar(actor, identity, avatar)
	}
	delete(r.pendingAvatars, actor)
}
