// services/config/defaultconfigs.go
package config

// Embedded configuration, keyed by device ID (the value placed in ctx under
// CtxDeviceKey). Populate at build time or by hand during development.

const cfgRangenode = `{
  "hal": {
    "devices": [
      {
        "id": "range0",
        "type": "hcsr04",
        "params": {
          "trigger_pin": 9,
          "echo_pin": 10
        }
      }
    ],
    "pollers": [
      {
        "domain": "range",
        "kind": "distance",
        "name": "range0",
        "verb": "read",
        "interval_ms": 500
      }
    ]
  },
  "reporter": {
    "baud": 9600
  },
  "heartbeat": {
    "interval": 2
  }
}`

var embeddedConfigs = map[string][]byte{
	"rangenode": []byte(cfgRangenode),
}
