package importer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixsearch/internal/models"
)

func TestReadObservations(t *testing.T) {
	in := "sample_number,equipment_name,data_type,value,operator\n" +
		"1,thermomat,stab_time_min,12.5,ab\n" +
		"\n" +
		"2, thermomat ,stab_time_min,13,cd\n"
	got, err := ReadObservations(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []models.Observation{
		{Equipment: "thermomat", DataType: "stab_time_min", Sample: 1, Value: 12.5},
		{Equipment: "thermomat", DataType: "stab_time_min", Sample: 2, Value: 13},
	}, got)
}

func TestReadObservationsSemicolonDecimalComma(t *testing.T) {
	in := "equipment_name;data_type;sample_number;value\nLOI;LOI Final;3;24,5\n"
	got, err := ReadObservations(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 24.5, got[0].Value)
	assert.Equal(t, "LOI Final", got[0].DataType)
}

func TestReadObservationsErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "equipment_name,data_type,value\nx,y,1\n",
		"bad sample":     "equipment_name,data_type,sample_number,value\nx,y,one,1\n",
		"nan value":      "equipment_name,data_type,sample_number,value\nx,y,1,NaN\n",
		"short row":      "equipment_name,data_type,sample_number,value\nx,y\n",
		"empty name":     "equipment_name,data_type,sample_number,value\n,y,1,2\n",
		"empty input":    "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadObservations(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestReadFractions(t *testing.T) {
	in := "\ufeffSample_Number,f0,f1,f2,f3,f4,f5,f6\n" +
		"1,0.5,0.1,0.1,0.1,0.1,0.05,0.05\n" +
		"2,0,0,0,0,0,0,1\n"
	got, err := ReadFractions(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.Fractions{0.5, 0.1, 0.1, 0.1, 0.1, 0.05, 0.05}, got[1])
	assert.Equal(t, 1.0, got[2][6])
}

func TestReadFractionsDuplicateSample(t *testing.T) {
	in := "sample_number,f0,f1,f2,f3,f4,f5,f6\n1,1,0,0,0,0,0,0\n1,0,1,0,0,0,0,0\n"
	_, err := ReadFractions(strings.NewReader(in))
	assert.ErrorContains(t, err, "listed twice")
}
