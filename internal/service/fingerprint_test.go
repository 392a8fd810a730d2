package service_test

import (
	"testing"

	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	base := model.Metrics{CPULoad: 20, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeSmall}
	buckets := service.BucketWidths{CPU: 5, RAM: 0.5, Bandwidth: 1}

	tests := []struct {
		name     string
		deviceID string
		metrics  model.Metrics
		widths   service.BucketWidths
		same     bool
	}{
		{
			name:     "identical input",
			deviceID: "D1",
			metrics:  base,
			widths:   buckets,
			same:     true,
		},
		{
			name:     "same bucket",
			deviceID: "D1",
			metrics:  model.Metrics{CPULoad: 24.5, RAMUsage: 2.3, Bandwidth: 3.7, QuerySize: model.QuerySizeSmall},
			widths:   buckets,
			same:     true,
		},
		{
			name:     "other device",
			deviceID: "D2",
			metrics:  base,
			widths:   buckets,
			same:     false,
		},
		{
			name:     "other cpu bucket",
			deviceID: "D1",
			metrics:  model.Metrics{CPULoad: 25, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeSmall},
			widths:   buckets,
			same:     false,
		},
		{
			name:     "other size",
			deviceID: "D1",
			metrics:  model.Metrics{CPULoad: 20, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeLarge},
			widths:   buckets,
			same:     false,
		},
		{
			name:     "exact values without buckets",
			deviceID: "D1",
			metrics:  model.Metrics{CPULoad: 20.1, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeSmall},
			widths:   service.BucketWidths{},
			same:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := service.Fingerprint("D1", base, tt.widths)
			got := service.Fingerprint(tt.deviceID, tt.metrics, tt.widths)
			if tt.same {
				assert.Equal(t, want, got)
			} else {
				assert.NotEqual(t, want, got)
			}
		})
	}
}
