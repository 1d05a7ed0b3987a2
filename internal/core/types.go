package core

import (
	"context"
	"time"
)

// EnclosureStatus is the enclosure add-on state: LED brightness and fan
// speed, both 0-255.
type EnclosureStatus struct {
	LED uint8 `json:"led"`
	Fan uint8 `json:"fan"`
}

// PrinterStatus is one snapshot of the printer. WorkSpeed is in mm/min.
type PrinterStatus struct {
	Status                     string          `json:"status"`
	X                          float64         `json:"x"`
	Y                          float64         `json:"y"`
	Z                          float64         `json:"z"`
	Homed                      bool            `json:"homed"`
	NozzleTemperature          float64         `json:"nozzle_temperature"`
	NozzleTargetTemperature    float64         `json:"nozzle_target_temperature"`
	HeatedBedTemperature       float64         `json:"heated_bed_temperature"`
	HeatedBedTargetTemperature float64         `json:"heated_bed_target_temperature"`
	WorkSpeed                  float64         `json:"work_speed"`
	FileName                   string          `json:"file_name"`
	Progress                   float64         `json:"progress"`
	EstimatedTime              float64         `json:"estimated_time"`
	ElapsedTime                float64         `json:"elapsed_time"`
	RemainingTime              float64         `json:"remaining_time"`
	PrintStatus                string          `json:"print_status"`
	Enclosure                  EnclosureStatus `json:"enclosure"`
}

// DefaultPrinterStatus is the idle snapshot served before the first
// successful poll.
func DefaultPrinterStatus() PrinterStatus {
	return PrinterStatus{
		Status:      "IDLE",
		FileName:    "No file loaded",
		PrintStatus: "Idle",
	}
}

// StatusFetcher is the part of the device client the keep-alive loop needs.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, token string) (PrinterStatus, error)
	FetchEnclosure(ctx context.Context, token string) (EnclosureStatus, error)
}

// StatusNotifier is told when the machine status string changes between
// two published snapshots.
type StatusNotifier interface {
	SendPrinterStatusChange(oldStatus, newStatus string, details *PrinterStatus)
}

type PrinterStatusChange struct {
	OldStatus string         `json:"old_status"`
	NewStatus string         `json:"new_status"`
	Details   *PrinterStatus `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
