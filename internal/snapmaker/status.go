package snapmaker

import (
	"fmt"

	"github.com/orrn/snapproxy/internal/core"
)

// deviceStatus mirrors the device's camelCase status document. Required
// fields are pointers so a missing one is detected.
type deviceStatus struct {
	Status                     *string  `json:"status"`
	X                          *float64 `json:"x"`
	Y                          *float64 `json:"y"`
	Z                          *float64 `json:"z"`
	Homed                      *bool    `json:"homed"`
	NozzleTemperature          *float64 `json:"nozzleTemperature"`
	NozzleTargetTemperature    *float64 `json:"nozzleTargetTemperature"`
	HeatedBedTemperature       *float64 `json:"heatedBedTemperature"`
	HeatedBedTargetTemperature *float64 `json:"heatedBedTargetTemperature"`
	WorkSpeed                  float64  `json:"workSpeed"`
	FileName                   string   `json:"fileName"`
	Progress                   float64  `json:"progress"`
	EstimatedTime              float64  `json:"estimatedTime"`
	ElapsedTime                float64  `json:"elapsedTime"`
	RemainingTime              float64  `json:"remainingTime"`
	PrintStatus                *string  `json:"printStatus"`
}

type deviceEnclosure struct {
	LED uint8 `json:"led"`
	Fan uint8 `json:"fan"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (d *deviceStatus) toPrinterStatus() (core.PrinterStatus, error) {
	missing := func(name string) error {
		return fmt.Errorf("malformed body: missing field %q", name)
	}

	switch {
	case d.Status == nil:
		return core.PrinterStatus{}, missing("status")
	case d.X == nil:
		return core.PrinterStatus{}, missing("x")
	case d.Y == nil:
		return core.PrinterStatus{}, missing("y")
	case d.Z == nil:
		return core.PrinterStatus{}, missing("z")
	case d.Homed == nil:
		return core.PrinterStatus{}, missing("homed")
	case d.NozzleTemperature == nil:
		return core.PrinterStatus{}, missing("nozzleTemperature")
	case d.NozzleTargetTemperature == nil:
		return core.PrinterStatus{}, missing("nozzleTargetTemperature")
	case d.HeatedBedTemperature == nil:
		return core.PrinterStatus{}, missing("heatedBedTemperature")
	case d.HeatedBedTargetTemperature == nil:
		return core.PrinterStatus{}, missing("heatedBedTargetTemperature")
	case d.PrintStatus == nil:
		return core.PrinterStatus{}, missing("printStatus")
	}

	return core.PrinterStatus{
		Status:                     *d.Status,
		X:                          *d.X,
		Y:                          *d.Y,
		Z:                          *d.Z,
		Homed:                      *d.Homed,
		NozzleTemperature:          *d.NozzleTemperature,
		NozzleTargetTemperature:    *d.NozzleTargetTemperature,
		HeatedBedTemperature:       *d.HeatedBedTemperature,
		HeatedBedTargetTemperature: *d.HeatedBedTargetTemperature,
		WorkSpeed:                  d.WorkSpeed,
		FileName:                   d.FileName,
		Progress:                   d.Progress,
		EstimatedTime:              d.EstimatedTime,
		ElapsedTime:                d.ElapsedTime,
		RemainingTime:              d.RemainingTime,
		PrintStatus:                *d.PrintStatus,
	}, nil
}
