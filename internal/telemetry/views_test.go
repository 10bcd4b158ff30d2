// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func TestCounterRecords(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	c := Counter("peereval/test_counter", "test records")
	RecordUnitMeasurement(ctx, c)
	RecordNUnitMeasurement(ctx, c, 2)

	rows, err := view.RetrieveData("peereval/test_counter")
	require.NoError(err)
	require.Len(rows, 1)
	require.Equal(float64(3), rows[0].Data.(*view.SumData).Value)
}

func TestDoubleRegisterIsHarmless(t *testing.T) {
	c := Counter("peereval/test_double", "double registered")
	c2 := Counter("peereval/test_double", "double registered")
	require.Equal(t, c.Name(), c2.Name())
}
