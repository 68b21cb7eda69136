package main

import (
	"kode/internal/config"
	"kode/internal/update"
)

// configStateStore persists notifier state in the user config file.
type configStateStore struct{}

func (configStateStore) Load() (update.State, error) {
	s, err := config.LoadUpdateState()
	if err != nil {
		return update.State{}, err
	}
	return update.State{LastCheckAt: s.LastCheckAt, LastSuggestedVersion: s.LastSuggestedVersion}, nil
}

func (configStateStore) Save(s update.State) error {
	return config.SaveUpdateState(config.UpdateState{
		LastCheckAt:          s.LastCheckAt,
		LastSuggestedVersion: s.LastSuggestedVersion,
	})
}

func (configStateStore) AutoUpdaterDisabled() bool {
	return config.GetBool(config.KeyAutoUpdaterDisabled)
}
