// Package sprites provides the standard node variants layered on the core
// scene codec.
//
// Every process must call Install for each role it plays, before building a
// tree, so that type tags line up across the link.
package sprites

import (
	"fmt"

	"github.com/danmuck/scenecast/internal/scene"
)

const (
	TextTypeName  = "text"
	ImageTypeName = "image"
)

// Install registers basic, text and image for role, in that order.
func Install(reg *scene.Registry, role scene.Role) error {
	if _, err := scene.RegisterBasic(reg, role); err != nil {
		return fmt.Errorf("sprites: install basic: %w", err)
	}
	if _, err := reg.Register(role, TextTypeName, newTextExtension); err != nil {
		return fmt.Errorf("sprites: install text: %w", err)
	}
	if _, err := reg.Register(role, ImageTypeName, newImageExtension); err != nil {
		return fmt.Errorf("sprites: install image: %w", err)
	}
	return nil
}

// NewRegistry returns a registry with the standard types installed for both
// roles.
func NewRegistry() (*scene.Registry, error) {
	reg := scene.NewRegistry()
	for _, role := range []scene.Role{scene.RoleProducer, scene.RoleConsumer} {
		if err := Install(reg, role); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newTextExtension() scene.Extension  { return newText() }
func newImageExtension() scene.Extension { return &Image{} }
