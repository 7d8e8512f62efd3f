//go:build integration

package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iqrfgd2/daemon/internal/auth"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ProductAndDriverLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.db.Create(&Product{ID: 1, HWPID: 0x1234, Name: "test-product", OSBuild: 0x0811, DPAVersion: 0x0404}).Error)
	require.NoError(t, store.db.Create(&Driver{ID: 1, Name: "coordinator", Version: "1.0.0", OSBuild: 0x0811, DPAVersion: 0x0404, Source: "function f(){}"}).Error)
	require.NoError(t, store.db.Create(&ProductDriver{ProductID: 1, DriverID: 1}).Error)

	product, err := store.Product(ctx, 0x1234)
	require.NoError(t, err)
	require.Equal(t, "test-product", product.Name)

	driver, err := store.Driver(ctx, product.ID, 0x0811, 0x0404)
	require.NoError(t, err)
	require.Equal(t, "coordinator", driver.Name)

	_, err = store.Product(ctx, 0xFFFF)
	require.ErrorIs(t, err, ErrProductNotFound)
}

func TestStore_DeviceWithSensors(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.db.Create(&Device{NAdr: 1, HWPID: 0x1234, MID: 0xAABBCCDD, Bonded: true, Discovered: true}).Error)
	require.NoError(t, store.db.Create(&Sensor{Type: 1, Name: "temperature", Unit: "C"}).Error)
	require.NoError(t, store.db.Create(&DeviceSensor{NAdr: 1, Index: 0, SensorType: 1}).Error)

	device, err := store.Device(ctx, 1)
	require.NoError(t, err)
	require.True(t, device.Bonded)
	require.Len(t, device.Sensors, 1)
	require.Equal(t, uint8(1), device.Sensors[0].SensorType)
}

func TestStore_TokenLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	salt := []byte("0123456789abcdef")
	hash := []byte("deadbeefdeadbeefdeadbeefdeadbeef")

	id, err := store.IssueToken(ctx, "status-cli", time.Hour, salt, hash)
	require.NoError(t, err)

	stored, err := store.TokenByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "status-cli", stored.Service)
	require.False(t, stored.Revoked)

	require.NoError(t, store.RevokeToken(ctx, id))
	stored, err = store.TokenByID(ctx, id)
	require.NoError(t, err)
	require.True(t, stored.Revoked)

	err = store.RevokeToken(ctx, 999)
	require.ErrorIs(t, err, auth.ErrUnknownToken)
}
