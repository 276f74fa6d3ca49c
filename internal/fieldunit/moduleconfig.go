package fieldunit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// UI templates a generated module can select.
const (
	TemplateToggleSwitch = "toggle_switch"
	TemplateStatusBadge  = "status_badge_card"
	TemplateGauge        = "gauge_card"
)

const (
	moduleConfigFile = "config.yml"
	moduleType       = "monitoring"
	moduleDirPerm    = 0o755
	moduleFilePerm   = 0o644

	// sampleTimestamp keeps generated files stable across runs.
	sampleTimestamp = 1732377600
)

// ModuleConfig is the module-config artifact generated for a registered device.
type ModuleConfig struct {
	Name       string         `yaml:"name"`
	ModuleType string         `yaml:"module_type"`
	BusTopic   string         `yaml:"bus_topic"`
	Template   string         `yaml:"template"`
	Bindings   map[string]any `yaml:"bindings"`
}

// SelectTemplate picks a UI template from the capability shape: actuators
// present → toggle; several sensors → status; one bounded sensor → gauge;
// anything else → status.
func SelectTemplate(caps Capabilities) string {
	switch {
	case len(caps.Actuators) > 0:
		return TemplateToggleSwitch
	case len(caps.Sensors) > 1:
		return TemplateStatusBadge
	case len(caps.Sensors) == 1 && caps.Sensors[0].Max != nil:
		return TemplateGauge
	default:
		return TemplateStatusBadge
	}
}

// BuildModuleConfig derives the module config for caps.
func BuildModuleConfig(caps Capabilities) ModuleConfig {
	bindings := make(map[string]any, len(caps.Sensors)+3)
	for _, s := range caps.Sensors {
		bindings[s.Name] = 0
	}
	bindings["device_id"] = caps.DeviceID
	bindings["firmware_version"] = caps.FirmwareVersion
	bindings["is_blinkable"] = true

	return ModuleConfig{
		Name:       fmt.Sprintf("%s (%s)", caps.DeviceID, caps.DeviceType),
		ModuleType: moduleType,
		BusTopic:   caps.DeviceID,
		Template:   SelectTemplate(caps),
		Bindings:   bindings,
	}
}

// RenderModuleConfig returns the YAML document with its comment header.
func RenderModuleConfig(caps Capabilities) ([]byte, error) {
	body, err := yaml.Marshal(BuildModuleConfig(caps))
	if err != nil {
		return nil, fmt.Errorf("marshalling module config: %w", err)
	}
	sample, err := samplePayload(caps)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Auto-generated module for %s\n", caps.DeviceID)
	fmt.Fprintf(&buf, "# Device Type: %s\n", caps.DeviceType)
	fmt.Fprintf(&buf, "# Firmware: %s\n\n", caps.FirmwareVersion)
	buf.WriteString("# Sample SSP Telemetry Payload:\n")
	for _, line := range strings.Split(sample, "\n") {
		buf.WriteString("# ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes(), nil
}

// WriteModuleConfig writes <dir>/<device_id>/config.yml and returns its path.
func WriteModuleConfig(dir string, caps Capabilities) (string, error) {
	if !ValidDeviceID(caps.DeviceID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, caps.DeviceID)
	}

	content, err := RenderModuleConfig(caps)
	if err != nil {
		return "", err
	}

	moduleDir := filepath.Join(dir, caps.DeviceID)
	if err := os.MkdirAll(moduleDir, moduleDirPerm); err != nil {
		return "", fmt.Errorf("creating module directory: %w", err)
	}
	path := filepath.Join(moduleDir, moduleConfigFile)
	if err := os.WriteFile(path, content, moduleFilePerm); err != nil {
		return "", fmt.Errorf("writing module config: %w", err)
	}
	return path, nil
}

func samplePayload(caps Capabilities) (string, error) {
	payload := make(map[string]float64, len(caps.Sensors))
	for _, s := range caps.Sensors {
		v := 0.0
		if s.Min != nil {
			v = *s.Min
		}
		payload[s.Name] = v
	}

	sample := map[string]any{
		"protocol":  "ssp/1.0",
		"type":      "telemetry",
		"topic":     caps.DeviceID,
		"timestamp": sampleTimestamp,
		"source": map[string]string{
			"id":        caps.DeviceID,
			"transport": "ble",
			"address":   "XX:XX:XX:XX:XX:XX",
		},
		"payload": payload,
	}
	out, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling sample payload: %w", err)
	}
	return string(out), nil
}
