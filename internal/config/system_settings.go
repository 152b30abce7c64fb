package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"vigil/internal/models"
	"vigil/internal/store"
	"vigil/internal/types"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	settingsUpdateChannel = "system_settings:updated"
	settingsCacheKey      = "system_settings:snapshot"
)

// SystemSettingsManager manages the runtime-tunable engine parameters stored
// in the system_settings table. A snapshot is kept in memory and refreshed via
// the store's pub/sub channel so every instance converges after an update.
type SystemSettingsManager struct {
	db       *gorm.DB
	store    store.Store
	mu       sync.RWMutex
	settings types.SystemSettings
	sub      store.Subscription
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSystemSettingsManager creates an uninitialized manager; call
// EnsureSettingsInitialized and Initialize during startup.
func NewSystemSettingsManager(db *gorm.DB) *SystemSettingsManager {
	return &SystemSettingsManager{
		db:       db,
		settings: DefaultSystemSettings(),
		stopCh:   make(chan struct{}),
	}
}

// DefaultSystemSettings builds a SystemSettings from the struct tag defaults.
func DefaultSystemSettings() types.SystemSettings {
	var settings types.SystemSettings
	v := reflect.ValueOf(&settings).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		def := t.Field(i).Tag.Get("default")
		if def == "" {
			continue
		}
		switch v.Field(i).Kind() {
		case reflect.Int:
			if n, err := strconv.Atoi(def); err == nil {
				v.Field(i).SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(def); err == nil {
				v.Field(i).SetBool(b)
			}
		case reflect.String:
			v.Field(i).SetString(def)
		}
	}
	return settings
}

// EnsureSettingsInitialized writes missing defaults to the settings table.
// Existing rows are left untouched so operator tuning survives restarts.
func (sm *SystemSettingsManager) EnsureSettingsInitialized() error {
	defaults := DefaultSystemSettings()
	v := reflect.ValueOf(defaults)
	t := v.Type()

	rows := make([]models.SystemSetting, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("json")
		if key == "" || key == "-" {
			continue
		}
		rows = append(rows, models.SystemSetting{
			SettingKey:   key,
			SettingValue: fmt.Sprint(v.Field(i).Interface()),
			Description:  t.Field(i).Tag.Get("desc"),
		})
	}

	return sm.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoNothing: true,
	}).Create(&rows).Error
}

// Initialize loads the settings snapshot and subscribes to update events.
func (sm *SystemSettingsManager) Initialize(s store.Store) error {
	sm.store = s

	if err := sm.reload(); err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}

	sub, err := s.Subscribe(settingsUpdateChannel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to settings updates: %w", err)
	}
	sm.sub = sub

	sm.wg.Add(1)
	go sm.watchUpdates()

	return nil
}

// Stop terminates the update watcher.
func (sm *SystemSettingsManager) Stop(ctx context.Context) {
	close(sm.stopCh)
	if sm.sub != nil {
		sm.sub.Close()
	}

	done := make(chan struct{})
	go func() {
		sm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("SystemSettingsManager stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("SystemSettingsManager stop timed out.")
	}
}

func (sm *SystemSettingsManager) watchUpdates() {
	defer sm.wg.Done()
	for {
		select {
		case _, ok := <-sm.sub.Channel():
			if !ok {
				return
			}
			if err := sm.refresh(); err != nil {
				logrus.WithError(err).Error("Failed to refresh system settings after update event")
			} else {
				logrus.Debug("System settings refreshed from update event")
			}
		case <-sm.stopCh:
			return
		}
	}
}

// reload reads all rows and rebuilds the in-memory snapshot.
func (sm *SystemSettingsManager) reload() error {
	var rows []models.SystemSetting
	if err := sm.db.Find(&rows).Error; err != nil {
		return err
	}

	settings := DefaultSystemSettings()
	v := reflect.ValueOf(&settings).Elem()
	t := v.Type()

	byKey := make(map[string]string, len(rows))
	for _, row := range rows {
		byKey[row.SettingKey] = row.SettingValue
	}

	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("json")
		raw, ok := byKey[key]
		if !ok {
			continue
		}
		switch v.Field(i).Kind() {
		case reflect.Int:
			if n, err := strconv.Atoi(raw); err == nil {
				v.Field(i).SetInt(int64(n))
			} else {
				logrus.WithField("key", key).Warnf("Invalid integer setting value %q, keeping default", raw)
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(raw); err == nil {
				v.Field(i).SetBool(b)
			}
		case reflect.String:
			v.Field(i).SetString(raw)
		}
	}

	sm.mu.Lock()
	sm.settings = settings
	sm.mu.Unlock()

	sm.cacheSnapshot(settings)
	return nil
}

// refresh prefers the snapshot cached by the updating instance and falls back
// to a full table reload on a cache miss.
func (sm *SystemSettingsManager) refresh() error {
	if sm.store != nil {
		if payload, err := sm.store.Get(settingsCacheKey); err == nil {
			var settings types.SystemSettings
			if err := json.Unmarshal(payload, &settings); err == nil {
				sm.mu.Lock()
				sm.settings = settings
				sm.mu.Unlock()
				return nil
			}
		}
	}
	return sm.reload()
}

// cacheSnapshot writes the merged snapshot to the store so peer instances can
// refresh without re-reading the settings table.
func (sm *SystemSettingsManager) cacheSnapshot(settings types.SystemSettings) {
	if sm.store == nil {
		return
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := sm.store.Set(settingsCacheKey, payload, 0); err != nil {
		logrus.WithError(err).Warn("Failed to cache settings snapshot")
	}
}

// GetSettings returns the current settings snapshot.
func (sm *SystemSettingsManager) GetSettings() types.SystemSettings {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.settings
}

// UpdateSettings validates and persists the given key/value updates, then
// publishes an update event so all instances reload.
func (sm *SystemSettingsManager) UpdateSettings(updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	if err := sm.ValidateSettings(updates); err != nil {
		return err
	}

	err := sm.db.Transaction(func(tx *gorm.DB) error {
		for key, value := range updates {
			result := tx.Model(&models.SystemSetting{}).
				Where("setting_key = ?", key).
				Update("setting_value", fmt.Sprint(value))
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := sm.reload(); err != nil {
		return err
	}

	if sm.store != nil {
		payload, _ := json.Marshal(updates)
		if err := sm.store.Publish(settingsUpdateChannel, payload); err != nil {
			logrus.WithError(err).Warn("Failed to publish settings update event")
		}
	}
	return nil
}

// ValidateSettings checks update values against the SystemSettings constraint
// tags without touching the database.
func (sm *SystemSettingsManager) ValidateSettings(updates map[string]any) error {
	fields := settingFields()
	for key, value := range updates {
		field, ok := fields[key]
		if !ok {
			return fmt.Errorf("invalid setting key: %s", key)
		}
		if err := validateSettingValue(field, key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateSettingValue(field reflect.StructField, key string, value any) error {
	rules := strings.Split(field.Tag.Get("validate"), ",")

	switch field.Type.Kind() {
	case reflect.Int:
		n, err := settingInt(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		for _, rule := range rules {
			switch {
			case strings.HasPrefix(rule, "min="):
				if min, convErr := strconv.Atoi(strings.TrimPrefix(rule, "min=")); convErr == nil && n < min {
					return fmt.Errorf("setting %s: value %d is below minimum value %d", key, n, min)
				}
			case strings.HasPrefix(rule, "max="):
				if max, convErr := strconv.Atoi(strings.TrimPrefix(rule, "max=")); convErr == nil && n > max {
					return fmt.Errorf("setting %s: value %d is above maximum value %d", key, n, max)
				}
			}
		}
	case reflect.Bool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("setting %s: expected a boolean", key)
		}
	case reflect.String:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("setting %s: expected a string", key)
		}
		for _, rule := range rules {
			if rule == "required" && strings.TrimSpace(s) == "" {
				return fmt.Errorf("setting %s is required", key)
			}
		}
	}
	return nil
}

// settingInt coerces a decoded JSON value to an int. Numbers arrive from the
// API as float64.
func settingInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, errors.New("value must be an integer")
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, errors.New("value must be an integer")
		}
		return int(n), nil
	default:
		return 0, errors.New("expected a number")
	}
}

// settingFields maps setting keys to their SystemSettings struct fields.
func settingFields() map[string]reflect.StructField {
	t := reflect.TypeOf(types.SystemSettings{})
	fields := make(map[string]reflect.StructField, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if key := t.Field(i).Tag.Get("json"); key != "" && key != "-" {
			fields[key] = t.Field(i)
		}
	}
	return fields
}
