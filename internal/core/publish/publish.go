// Package publish turns changed objects and invoked actions into canonical
// events and hands them to a publishing sink. Canonicalization is a pluggable
// strategy with defaults producing a fixed text format.
package publish

import (
	"context"
	"strings"
)

// EventKind classifies canonical events.
type EventKind string

const (
	KindChangedObject EventKind = "changed_object"
	KindAction        EventKind = "action"
)

// CanonicalEvent is the normalized representation handed to the sink.
type CanonicalEvent struct {
	Kind EventKind
	// Identifier is empty for changed-object events and the action
	// identifier for action events.
	Identifier string
	// Oid of the changed object, or the action target.
	Oid  string
	Text string
}

// Service is the publishing sink. Optional collaborator: absence means
// publishing is skipped entirely.
type Service interface {
	Publish(ctx context.Context, ev CanonicalEvent) error
}

// ObjectCanonicalizer converts a changed object into a canonical event.
type ObjectCanonicalizer interface {
	CanonicalizeObject(oid string) CanonicalEvent
}

// ActionCanonicalizer converts an invoked action into a canonical event.
type ActionCanonicalizer interface {
	CanonicalizeAction(target, identifier string, args []string, result string) CanonicalEvent
}

// --- Default canonicalizers ---

type defaultObjectCanonicalizer struct{}

func (defaultObjectCanonicalizer) CanonicalizeObject(oid string) CanonicalEvent {
	return CanonicalEvent{
		Kind: KindChangedObject,
		Oid:  oid,
		Text: "CHANGED_OBJECT\n    " + oid,
	}
}

type defaultActionCanonicalizer struct{}

func (defaultActionCanonicalizer) CanonicalizeAction(target, identifier string, args []string, result string) CanonicalEvent {
	var buf strings.Builder
	buf.WriteString("ACTION\n")
	buf.WriteString(identifier)
	buf.WriteString("\n    target=")
	buf.WriteString(target)
	buf.WriteString("\n      args=[")
	for _, arg := range args {
		buf.WriteString("\n           ")
		buf.WriteString(arg)
	}
	buf.WriteString("\n      ]")
	buf.WriteString("\n    result=")
	if result == "" {
		result = "void"
	}
	buf.WriteString(result)
	return CanonicalEvent{
		Kind:       KindAction,
		Identifier: identifier,
		Oid:        target,
		Text:       buf.String(),
	}
}

// Publisher combines a sink with canonicalizers, defaulting either
// canonicalizer when nil, and an optional filter gating publication.
type Publisher struct {
	service    Service
	objects    ObjectCanonicalizer
	actions    ActionCanonicalizer
	filter     *Filter
}

// Options configures optional Publisher collaborators.
type Options struct {
	Objects ObjectCanonicalizer
	Actions ActionCanonicalizer
	Filter  *Filter
}

// NewPublisher builds a Publisher over the given sink. Missing canonicalizers
// fall back to the defaults.
func NewPublisher(service Service, opts Options) *Publisher {
	objects := opts.Objects
	if objects == nil {
		objects = defaultObjectCanonicalizer{}
	}
	actions := opts.Actions
	if actions == nil {
		actions = defaultActionCanonicalizer{}
	}
	return &Publisher{
		service: service,
		objects: objects,
		actions: actions,
		filter:  opts.Filter,
	}
}

// PublishChangedObject canonicalizes and publishes one changed object.
func (p *Publisher) PublishChangedObject(ctx context.Context, oid string) error {
	ev := p.objects.CanonicalizeObject(oid)
	return p.publish(ctx, ev)
}

// PublishAction canonicalizes and publishes one invoked action.
func (p *Publisher) PublishAction(ctx context.Context, target, identifier string, args []string, result string) error {
	ev := p.actions.CanonicalizeAction(target, identifier, args, result)
	return p.publish(ctx, ev)
}

func (p *Publisher) publish(ctx context.Context, ev CanonicalEvent) error {
	if p.filter != nil {
		allowed, err := p.filter.Allow(ev)
		if err != nil {
			return err
		}
		if !allowed {
			return nil
		}
	}
	return p.service.Publish(ctx, ev)
}
