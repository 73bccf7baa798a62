package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "settings.json"), testLogger())
}

func sample(id string) Settings {
	return Settings{
		ID:               id,
		ChargeManagement: true,
		HomeLatitude:     37.4419,
		HomeLongitude:    -122.143,
		BatteryReserve:   70,
		GridThreshold:    50,
	}
}

func TestCreateAndGetByID(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Create(sample("42")))

	entry := store.GetByID("42")
	require.NotNil(t, entry)
	assert.Equal(t, 70, entry.BatteryReserve)
	assert.False(t, entry.DateCreated.IsZero())
	assert.False(t, entry.DateUpdated.IsZero())

	assert.Nil(t, store.GetByID("nope"))
}

func TestCreateUpsertsByID(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Create(sample("42")))
	created := store.GetByID("42").DateCreated

	updated := sample("42")
	updated.BatteryReserve = 80
	require.NoError(t, store.Create(updated))

	require.Len(t, store.GetAll(), 1)
	entry := store.GetByID("42")
	assert.Equal(t, 80, entry.BatteryReserve)
	assert.Equal(t, created, entry.DateCreated, "creation timestamp survives upsert")
}

func TestUpdateTouchesOneEntry(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Create(sample("42")))
	require.NoError(t, store.Create(sample("43")))

	before := store.GetByID("42").DateUpdated
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.Update("42"))
	assert.True(t, store.GetByID("42").DateUpdated.After(before))

	assert.Error(t, store.Update("unknown"))
}

func TestDelete(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Create(sample("42")))
	require.NoError(t, store.Create(sample("43")))

	require.NoError(t, store.Delete("42"))

	assert.Nil(t, store.GetByID("42"))
	assert.NotNil(t, store.GetByID("43"))
}

func TestPersistenceAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	store := NewStore(path, testLogger())
	require.NoError(t, store.Create(sample("42")))

	reloaded := NewStore(path, testLogger())
	entry := reloaded.GetByID("42")
	require.NotNil(t, entry)
	assert.Equal(t, 50, entry.GridThreshold)

	// File is a JSON array of entries.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var items []Settings
	require.NoError(t, json.Unmarshal(raw, &items))
	assert.Len(t, items, 1)
}

func TestCorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := NewStore(path, testLogger())
	assert.Empty(t, store.GetAll())
}
