package handlers

import "github.com/iqrfgd2/daemon/internal/splitter"

// Coordinator/OS/Sensor peripheral and command numbers this package
// addresses directly (IQRF DPA standard peripheral numbering).
const (
	pnumCoordinator = 0x00
	pnumOS          = 0x02
	pnumSensor      = 0x5E

	cmdAddrInfo         = 0x00
	cmdOSRead           = 0x00
	cmdSensorReadValues = 0x3E
)

var coordinatorAddr uint16 = 0x0000

// CoordinatorAddrInfoSpec binds "iqrfEmbedCoordinator_AddrInfo" to the
// Coordinator peripheral's AddrInfo command (spec.md §8 scenario 1). The
// request always targets the coordinator itself, so DefaultNAdr is set.
var CoordinatorAddrInfoSpec = Spec{
	MType:       "iqrfEmbedCoordinator_AddrInfo",
	PNum:        pnumCoordinator,
	PCmd:        cmdAddrInfo,
	EncodeFunc:  "iqrfEmbedCoordinator.encodeAddrInfo",
	DecodeFunc:  "iqrfEmbedCoordinator.decodeAddrInfo",
	DefaultNAdr: &coordinatorAddr,
}

// OSReadSpec binds "iqrfEmbedOs_Read" to the OS peripheral's Read command.
// Unlike AddrInfo, the target node is mesh-wide, so callers must supply
// req.nAdr (spec.md §8 scenario 2's addressing shape).
var OSReadSpec = Spec{
	MType:      "iqrfEmbedOs_Read",
	PNum:       pnumOS,
	PCmd:       cmdOSRead,
	EncodeFunc: "iqrfEmbedOs.encodeRead",
	DecodeFunc: "iqrfEmbedOs.decodeRead",
}

// SensorReadValuesSpec binds "iqrfSensor_ReadSensorsWithTypes" to the
// Sensor peripheral's ReadSensorsWithTypes command.
var SensorReadValuesSpec = Spec{
	MType:      "iqrfSensor_ReadSensorsWithTypes",
	PNum:       pnumSensor,
	PCmd:       cmdSensorReadValues,
	EncodeFunc: "iqrfSensor.encodeReadSensorsWithTypes",
	DecodeFunc: "iqrfSensor.decodeReadSensorsWithTypes",
}

// Registry is the set of Specs an ApiHandlers pool registers with the
// MessageSplitter at startup (spec.md §4.6).
var Registry = []Spec{
	CoordinatorAddrInfoSpec,
	OSReadSpec,
	SensorReadValuesSpec,
}

// RegisterAll binds every Spec in specs to eng and driver, registering
// each Handler with s under its own mType as the sole prefix filter.
func RegisterAll(s *splitter.Splitter, specs []Spec, eng Engine, driver Driver) error {
	for _, spec := range specs {
		if err := s.Register(New(spec, eng, driver), spec.MType); err != nil {
			return err
		}
	}
	return nil
}
