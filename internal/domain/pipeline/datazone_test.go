package pipeline

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDataZoneRecord(t *testing.T) {
	record, err := NewDataZoneRecord(uuid.New(), uuid.New(), ZoneExtracted, []byte(`{"confidence":0.93}`))

	require.NoError(t, err)
	assert.Equal(t, ZoneRecordActive, record.Status)
	assert.Equal(t, ZoneExtracted, record.Zone)
}

func TestNewDataZoneRecord_UnknownZone(t *testing.T) {
	_, err := NewDataZoneRecord(uuid.New(), uuid.New(), Zone("staging"), nil)
	assert.Error(t, err)
}

func TestZone_IsValid(t *testing.T) {
	for _, zone := range []Zone{ZoneRaw, ZoneExtracted, ZoneProposed, ZonePosted} {
		assert.True(t, zone.IsValid())
	}
	assert.False(t, Zone("").IsValid())
}
