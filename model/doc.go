// Package model defines the provider-agnostic abstraction used by generator
// and critic tasks to call language models.
//
// Providers (see the openai and anthropic subpackages) implement Model so
// reflection loops and planners stay decoupled from vendor SDKs. MockModel
// serves tests and offline demos. WithCallLimit caps how often a model may be
// called.
package model
