package allocation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
)

func TestResultMatchesContract(t *testing.T) {
	schema, err := jsonschema.NewCompiler().Compile("testdata/result.schema.json")
	require.NoError(t, err)

	store := newTestStore(t, "")
	workshop := seedWorkshop(t, store, models.Workshop{Phase: models.PhaseAssessment}, 3)
	allocator := newTestAllocator(store, events.Nop{})

	result, err := allocator.ExecuteRandom(context.Background(), workshop.ID, RandomSettings{NumOfReviews: 5, NumPer: NumPerSubmission}, 1)
	require.NoError(t, err)
	require.NotZero(t, result.Warnings())

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var document interface{}
	require.NoError(t, json.Unmarshal(raw, &document))
	require.NoError(t, schema.Validate(document))
}
