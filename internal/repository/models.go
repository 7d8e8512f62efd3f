// Package repository persists the catalog of known products, driver
// scripts, bonded devices, and API tokens that back the daemon's
// Repository interface (spec.md §6). Schema details are an opaque
// implementation of that interface; no other package reaches into gorm
// models directly.
package repository

import "time"

// Product is one hardware profile identified by HWPID, bound to the
// driver script that knows how to talk to it.
type Product struct {
	ID         uint32 `gorm:"primaryKey"`
	HWPID      uint16 `gorm:"uniqueIndex;not null"`
	Name       string `gorm:"size:255;not null"`
	OSBuild    uint32 `gorm:"not null"`
	DPAVersion uint32 `gorm:"not null"`
	Drivers    []ProductDriver `gorm:"foreignKey:ProductID"`
}

func (Product) TableName() string { return "products" }

// Driver is one versioned JavaScript driver body (internal/sandbox's
// DriverSandbox.Load input).
type Driver struct {
	ID         uint32 `gorm:"primaryKey"`
	Name       string `gorm:"size:255;not null"`
	Version    string `gorm:"size:64;not null"`
	OSBuild    uint32 `gorm:"not null"`
	DPAVersion uint32 `gorm:"not null"`
	Source     string `gorm:"type:text;not null"`
}

func (Driver) TableName() string { return "drivers" }

// ProductDriver binds one product to the set of drivers its peripherals
// need (a product can bundle Coordinator/OS/Sensor/etc. drivers
// together).
type ProductDriver struct {
	ProductID uint32 `gorm:"primaryKey"`
	DriverID  uint32 `gorm:"primaryKey"`
}

func (ProductDriver) TableName() string { return "product_drivers" }

// Device is one bonded or discovered network node.
type Device struct {
	NAdr       uint8  `gorm:"primaryKey"`
	HWPID      uint16 `gorm:"not null"`
	MID        uint32 `gorm:"not null"`
	Bonded     bool   `gorm:"default:false"`
	Discovered bool   `gorm:"default:false"`
	VRN        uint8
	Zone       uint8
	ParentNAdr *uint8

	BinaryOutputs []BinaryOutput `gorm:"foreignKey:NAdr;references:NAdr"`
	Lights        []Light        `gorm:"foreignKey:NAdr;references:NAdr"`
	Sensors       []DeviceSensor `gorm:"foreignKey:NAdr;references:NAdr"`
}

func (Device) TableName() string { return "devices" }

// BinaryOutput is one binary-output index exposed by a device.
type BinaryOutput struct {
	NAdr  uint8 `gorm:"primaryKey;column:n_adr"`
	Index uint8 `gorm:"primaryKey;column:index_"`
	State bool
}

func (BinaryOutput) TableName() string { return "binary_outputs" }

// Light is one dimmable-light index exposed by a device.
type Light struct {
	NAdr  uint8 `gorm:"primaryKey;column:n_adr"`
	Index uint8 `gorm:"primaryKey;column:index_"`
	Power uint8
}

func (Light) TableName() string { return "lights" }

// Sensor is one sensor quantity type known to the catalog (temperature,
// humidity, CO2, ...), identified by the IQRF Sensor standard's type
// number.
type Sensor struct {
	Type uint8  `gorm:"primaryKey"`
	Name string `gorm:"size:255;not null"`
	Unit string `gorm:"size:32"`
}

func (Sensor) TableName() string { return "sensors" }

// DeviceSensor binds one device to the sensor types it exposes, at a
// given index within the device's sensor list.
type DeviceSensor struct {
	NAdr       uint8 `gorm:"primaryKey;column:n_adr"`
	Index      uint8 `gorm:"primaryKey;column:index_"`
	SensorType uint8 `gorm:"not null"`
}

func (DeviceSensor) TableName() string { return "device_sensors" }

// APIToken is the persisted form of auth.StoredToken (spec.md §6): a
// salted-secret credential scoped to one external transport client.
type APIToken struct {
	ID         uint32 `gorm:"primaryKey;autoIncrement:false"`
	Salt       []byte `gorm:"not null"`
	SecretHash []byte `gorm:"not null"`
	Service    string `gorm:"size:255;not null"`
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Revoked    bool `gorm:"default:false"`
}

func (APIToken) TableName() string { return "api_tokens" }

// AllModels lists every catalog model. The schema itself is created by the
// embedded SQL migrations (see runMigrations); nothing passes this list to
// gorm AutoMigrate.
func AllModels() []any {
	return []any{
		&Product{}, &Driver{}, &ProductDriver{}, &Device{},
		&BinaryOutput{}, &Light{}, &Sensor{}, &DeviceSensor{}, &APIToken{},
	}
}
