package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boddenberg/receptionist-core/internal/domain"
	"github.com/boddenberg/receptionist-core/internal/service"
)

func plumbingBusiness() *domain.BusinessContext {
	return &domain.BusinessContext{
		BusinessID: "biz-1",
		Name:       "Richmond Trades",
		Currency:   "AUD",
		Services: []domain.Service{
			{
				ID: "svc-plumbing", Name: "Plumbing", BasePrice: 120,
				Fields: []domain.FieldDefinition{
					{Field: "job_scope", Kind: domain.FieldBasic, Required: true},
					{Field: "service_address", Kind: domain.FieldAddress, Required: true},
				},
			},
			{
				ID: "svc-cleaning", Name: "Cleaning", BasePrice: 80, UnitPrice: 25, UnitField: "room_count",
				Fields: []domain.FieldDefinition{
					{Field: "service_address", Kind: domain.FieldAddress, Required: true},
					{Field: "room_count", Kind: domain.FieldBasic, Required: true, Label: "number of rooms"},
					{Field: "clean_type", Kind: domain.FieldBasic, Required: true, Options: []string{"standard", "deep clean", "end of lease"}},
					{Field: "access_notes", Kind: domain.FieldBasic, Required: false},
				},
			},
			{
				ID: "svc-electrical", Name: "Electrical", BasePrice: 150,
				Fields: []domain.FieldDefinition{
					{Field: "job_scope", Kind: domain.FieldBasic, Required: false},
					{Field: "service_address", Kind: domain.FieldAddress, Required: false},
					{Field: "postal_address", Kind: domain.FieldAddress, Required: true},
				},
			},
		},
	}
}

func TestAnalyze_SingleServiceOrdersBasicThenAddress(t *testing.T) {
	bc := plumbingBusiness()
	cleaning, _ := bc.ServiceByID("svc-cleaning")

	specs := service.NewRequirementsEngine().Analyze([]domain.Service{cleaning})
	fields := make([]string, 0, len(specs))
	for _, s := range specs {
		fields = append(fields, s.Field)
	}
	assert.Equal(t, []string{"room_count", "clean_type", "access_notes", "service_address"}, fields)
	assert.False(t, specs[2].Required)
}

func TestAnalyze_MultiServiceDeduplicatesSharedField(t *testing.T) {
	bc := plumbingBusiness()
	a, _ := bc.ServiceByID("svc-plumbing")
	b, _ := bc.ServiceByID("svc-cleaning")

	specs := service.NewRequirementsEngine().Analyze([]domain.Service{a, b})
	count := 0
	for _, s := range specs {
		if s.Field == "service_address" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, "job_scope", specs[0].Field)
	assert.Equal(t, domain.FieldAddress, specs[len(specs)-1].Kind)
}

func TestAnalyze_RequiredIsMergedAcrossServices(t *testing.T) {
	bc := plumbingBusiness()
	elec, _ := bc.ServiceByID("svc-electrical")
	plumb, _ := bc.ServiceByID("svc-plumbing")

	specs := service.NewRequirementsEngine().Analyze([]domain.Service{elec, plumb})
	byField := map[string]domain.RequirementSpec{}
	for _, s := range specs {
		byField[s.Field] = s
	}
	assert.True(t, byField["job_scope"].Required)
	assert.True(t, byField["service_address"].Required)
	assert.Len(t, specs, 3)
}

func TestGenerateQuestions_OnlyRequiredInOrder(t *testing.T) {
	specs := []domain.RequirementSpec{
		{Field: "job_scope", Required: true, Kind: domain.FieldBasic},
		{Field: "access_notes", Required: false, Kind: domain.FieldBasic},
		{Field: "room_count", Required: true, Kind: domain.FieldBasic, Label: "number of rooms"},
		{Field: "service_address", Required: true, Kind: domain.FieldAddress, Question: "Where is the property?"},
	}
	qs := service.NewRequirementsEngine().GenerateQuestions(specs)
	require.Len(t, qs, 3)
	assert.Equal(t, "Can you briefly describe the job you need done?", qs[0])
	assert.Equal(t, "How many rooms are there?", qs[1])
	assert.Equal(t, "Where is the property?", qs[2])
}

func TestStartQuote_NoServicesOffersSelection(t *testing.T) {
	res := service.NewQuoteCollector(nil, nil).StartQuote(plumbingBusiness(), nil, nil)

	assert.True(t, res.NeedsMoreInfo)
	assert.Len(t, res.AvailableServices, 3)
	require.NotNil(t, res.Session)
	assert.Equal(t, domain.StepServiceSelection, res.Session.CurrentStep)
	assert.Contains(t, res.NextQuestion, "Plumbing")
}

func TestStartQuote_SingleServiceAsksFirstDeclaredQuestion(t *testing.T) {
	res := service.NewQuoteCollector(nil, nil).StartQuote(plumbingBusiness(), []string{"svc-plumbing"}, nil)

	require.Empty(t, res.Error)
	assert.True(t, res.NeedsMoreInfo)
	assert.Equal(t, "Can you briefly describe the job you need done?", res.NextQuestion)
	assert.Equal(t, []string{"job_scope", "service_address"}, res.Session.MissingRequirements)
	assert.Equal(t, domain.StepInfoCollection, res.Session.CurrentStep)
	assert.False(t, res.Session.IsMultiService)
}

func TestStartQuote_FiltersUnknownIDs(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)

	res := c.StartQuote(plumbingBusiness(), []string{"svc-nope", "svc-plumbing", "svc-plumbing"}, nil)
	require.NotNil(t, res.Session)
	assert.Equal(t, []string{"svc-plumbing"}, res.Session.ServiceIDs)

	res = c.StartQuote(plumbingBusiness(), []string{"svc-nope"}, nil)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Session)
}

func TestStartQuote_PriorAnswersCanCompleteImmediately(t *testing.T) {
	res := service.NewQuoteCollector(nil, nil).StartQuote(plumbingBusiness(), []string{"svc-plumbing"}, map[string]string{
		"job_scope":       "leaking tap",
		"service_address": "1 King St",
	})
	assert.False(t, res.NeedsMoreInfo)
	assert.Equal(t, domain.StepQuoteGeneration, res.Session.CurrentStep)
	require.NotNil(t, res.Session.Quote)
	assert.Equal(t, 120.0, res.Session.Quote.Total)
}

func TestProcessResponse_AddressFillsServiceAddress(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	start := c.StartQuote(bc, []string{"svc-plumbing"}, nil)

	res := c.ProcessResponse(bc, start.Session, "123 Smith St, Richmond")

	assert.Equal(t, "123 Smith St, Richmond", res.UpdatedSession.CollectedInfo["service_address"])
	assert.NotContains(t, res.UpdatedSession.MissingRequirements, "service_address")
	assert.Equal(t, []string{"job_scope"}, res.UpdatedSession.MissingRequirements)
	assert.True(t, res.NeedsMoreInfo)
	assert.Equal(t, "Can you briefly describe the job you need done?", res.NextQuestion)

	// The input session is not mutated.
	assert.Empty(t, start.Session.CollectedInfo["service_address"])
}

func TestProcessResponse_WalksToQuoteGeneration(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	qs := c.StartQuote(bc, []string{"svc-cleaning"}, nil).Session

	res := c.ProcessResponse(bc, qs, "there are three bedrooms")
	assert.Equal(t, "3", res.UpdatedSession.CollectedInfo["room_count"])

	res = c.ProcessResponse(bc, res.UpdatedSession, "a deep clean please")
	assert.Equal(t, "deep clean", res.UpdatedSession.CollectedInfo["clean_type"])

	res = c.ProcessResponse(bc, res.UpdatedSession, "42 Swan Road")
	assert.True(t, res.ReadyForQuote)
	assert.False(t, res.NeedsMoreInfo)
	assert.Equal(t, domain.StepQuoteGeneration, res.UpdatedSession.CurrentStep)
	assert.Empty(t, res.UpdatedSession.MissingRequirements)

	require.NotNil(t, res.UpdatedSession.Quote)
	assert.Equal(t, 155.0, res.UpdatedSession.Quote.Total)
	assert.Equal(t, 3, res.UpdatedSession.Quote.Lines[0].Units)
}

func TestProcessResponse_AddressSuppressesNumberExtraction(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	qs := c.StartQuote(bc, []string{"svc-cleaning"}, nil).Session

	res := c.ProcessResponse(bc, qs, "12 Swan Street")
	assert.Empty(t, res.UpdatedSession.CollectedInfo["room_count"])
	assert.Equal(t, "12 Swan Street", res.UpdatedSession.CollectedInfo["service_address"])
}

func TestProcessResponse_UnusableAnswerReasks(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	qs := c.StartQuote(bc, []string{"svc-cleaning"}, nil).Session

	res := c.ProcessResponse(bc, qs, "hmm not sure")
	assert.True(t, res.NeedsMoreInfo)
	assert.Empty(t, res.Extracted)
	assert.Equal(t, "Sorry, I didn't quite catch that. How many rooms are there?", res.NextQuestion)
	assert.Equal(t, qs.MissingRequirements, res.UpdatedSession.MissingRequirements)
}

func TestProcessResponse_MultiServiceAsksSharedAddressOnce(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	qs := c.StartQuote(bc, []string{"svc-plumbing", "svc-cleaning"}, nil).Session
	assert.True(t, qs.IsMultiService)

	res := c.ProcessResponse(bc, qs, "5 Queen Parade")
	for _, f := range res.UpdatedSession.MissingRequirements {
		assert.NotEqual(t, "service_address", f)
	}
}

func TestQuoteStep_NextQuestionTracksMissingFields(t *testing.T) {
	c := service.NewQuoteCollector(nil, nil)
	bc := plumbingBusiness()
	qs := c.StartQuote(bc, []string{"svc-plumbing", "svc-cleaning"}, nil).Session

	answers := []string{"blocked drain", "nope", "4 rooms", "standard", "7 High St"}
	for _, a := range answers {
		res := c.ProcessResponse(bc, qs, a)
		qs = res.UpdatedSession
		assert.Equal(t, len(qs.MissingRequirements) == 0, qs.CurrentStep == domain.StepQuoteGeneration, "after %q", a)
	}
	assert.Equal(t, domain.StepQuoteGeneration, qs.CurrentStep)
}

func TestKeywordExtractor_EmptyAnswer(t *testing.T) {
	qs := &domain.QuoteSession{
		ServiceIDs:   []string{"svc"},
		Requirements: []domain.RequirementSpec{{Field: "job_scope", Required: true, Kind: domain.FieldBasic}},
	}
	qs.Recompute()
	assert.Empty(t, service.KeywordExtractor{}.Extract("   ", qs))
}
