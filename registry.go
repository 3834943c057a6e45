package main

import (
	"context"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/sirupsen/logrus"
)

// ControllerRegistry hands out one controller per user. Controllers are
// created lazily on first authenticated request and live until sign-out.
type ControllerRegistry struct {
	mu          sync.Mutex
	logger      *logrus.Logger
	gateway     models.Gateway
	prefs       models.PreferenceStore
	controllers map[string]*models.Controller
}

func NewControllerRegistry(gateway models.Gateway, prefs models.PreferenceStore, logger *logrus.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		logger:      logger,
		gateway:     gateway,
		prefs:       prefs,
		controllers: map[string]*models.Controller{},
	}
}

// ForUser returns the user's controller, initializing one on first use.
// A failed initial load still yields a usable (empty) controller; the
// load error is logged here and surfaces again on the next save.
func (r *ControllerRegistry) ForUser(ctx context.Context, userId string) *models.Controller {
	r.mu.Lock()
	ctrl, ok := r.controllers[userId]
	if !ok {
		ctrl = models.NewController(r.gateway, r.prefs, r.logger)
		r.controllers[userId] = ctrl
	}
	r.mu.Unlock()

	if !ok {
		if err := ctrl.Initialize(ctx, userId, true); err != nil {
			if errors.Is(err, models.ErrPersistence) {
				config.LogError(r.logger, "registry.go", "ForUser", "Initialize", userId, err)
			}
		}
	}
	return ctrl
}

// Remove signs the controller out and drops it from the registry.
func (r *ControllerRegistry) Remove(userId string) {
	r.mu.Lock()
	ctrl, ok := r.controllers[userId]
	if ok {
		delete(r.controllers, userId)
	}
	r.mu.Unlock()
	if ok {
		ctrl.SignOut()
	}
}
