package definition_test

import (
	"testing"

	"github.com/pbinitiative/zenpvm/pkg/pvm"
	"github.com/pbinitiative/zenpvm/pkg/pvm/behavior"
	"github.com/pbinitiative/zenpvm/pkg/pvm/definition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderDocument = `
id: order
name: Order handling
version: 3
activities:
  - id: start
    type: automatic
    outgoing:
      - to: check
  - id: check
    type: exclusiveGateway
    config:
      default: toReview
    outgoing:
      - id: toFork
        to: fork
        condition: amount < 100
      - id: toReview
        to: review
  - id: review
    type: wait
  - id: fork
    type: parallelGateway
    outgoing:
      - to: billing
      - to: shipping
  - id: billing
    type: subProcess
    errorHandlers:
      - errorCode: PAYMENT_FAILED
        to: review
    activities:
      - id: charge
        type: throwError
        config:
          errorCode: PAYMENT_FAILED
          message: card declined
  - id: shipping
    type: wait
`

func registry(t *testing.T) *definition.Registry {
	r, err := behavior.NewRegistry(behavior.Options{})
	require.NoError(t, err)
	return r
}

func TestParseDocument(t *testing.T) {
	def, err := definition.Parse([]byte(orderDocument), registry(t))
	require.NoError(t, err)

	assert.Equal(t, "order", def.ID())
	assert.Equal(t, "Order handling", def.Name())
	assert.Equal(t, int32(3), def.Version())

	check := def.Activity("check")
	require.NotNil(t, check)
	assert.Equal(t, behavior.ExclusiveGateway{DefaultTransitionID: "toReview"}, check.Behavior())
	require.Len(t, check.Outgoing(), 2)
	assert.Equal(t, "amount < 100", check.Outgoing()[0].Condition().(pvm.ExpressionCondition).Expression)
	assert.Nil(t, check.Outgoing()[1].Condition())

	billing := def.Activity("billing")
	assert.True(t, billing.IsScope())
	assert.Equal(t, []pvm.ErrorHandler{{ErrorCode: "PAYMENT_FAILED", TargetID: "review"}}, billing.ErrorHandlers())
	assert.Equal(t, behavior.ThrowError{ErrorCode: "PAYMENT_FAILED", Message: "card declined"}, def.Activity("charge").Behavior())
	assert.Len(t, def.Activity("fork").Outgoing(), 2)
}

func TestMarshalRoundTrip(t *testing.T) {
	r := registry(t)
	def, err := definition.Parse([]byte(orderDocument), r)
	require.NoError(t, err)

	data, err := definition.Marshal(def)
	require.NoError(t, err)
	again, err := definition.Parse(data, r)
	require.NoError(t, err)

	first, err := definition.ToDocument(def)
	require.NoError(t, err)
	second, err := definition.ToDocument(again)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidateReportsAllProblems(t *testing.T) {
	doc := `
id: broken
activities:
  - id: a
    type: teleport
    outgoing:
      - to: ""
  - type: wait
`
	_, err := definition.Parse([]byte(doc), registry(t))

	require.ErrorIs(t, err, pvm.ErrInvalidDefinition)
	assert.ErrorContains(t, err, `unknown type "teleport"`)
	assert.ErrorContains(t, err, "transition 0 of a has no target")
	assert.ErrorContains(t, err, "activity without id")
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	_, err := definition.Parse([]byte("id: x\nactivites: []\n"), registry(t))

	assert.ErrorIs(t, err, pvm.ErrInvalidDefinition)
}

func TestInvalidBehaviorConfig(t *testing.T) {
	doc := `
id: cfg
activities:
  - id: gw
    type: exclusiveGateway
    config:
      fallback: x
`
	_, err := definition.Parse([]byte(doc), registry(t))

	require.ErrorIs(t, err, pvm.ErrInvalidDefinition)
	assert.ErrorContains(t, err, "activity gw")
}

func TestGraphErrorsComeFromTheBuilder(t *testing.T) {
	doc := `
id: cross
activities:
  - id: outer
    type: automatic
    outgoing:
      - to: inner
  - id: sub
    type: subProcess
    activities:
      - id: inner
        type: wait
`
	_, err := definition.Parse([]byte(doc), registry(t))

	require.ErrorIs(t, err, pvm.ErrInvalidDefinition)
	assert.ErrorContains(t, err, "crosses scope boundary")
}

func TestCustomType(t *testing.T) {
	r := definition.NewRegistry()
	require.NoError(t, r.Register("noop", definition.Typed[behavior.Automatic]()))
	assert.Error(t, r.Register("noop", definition.Typed[behavior.Automatic]()))
	assert.Equal(t, []string{"noop"}, r.Types())

	def, err := definition.Parse([]byte("id: p\nactivities:\n  - id: a\n    type: noop\n"), r)

	require.NoError(t, err)
	assert.Equal(t, behavior.Automatic{}, def.Activity("a").Behavior())
}
