package aiflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"
)

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func num(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeNumber, Description: desc}
}

func object(props map[string]*genai.Schema, required ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeObject, Properties: props, Required: required}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// ---- feedback ----

type Impact string

const (
	ImpactHigh   Impact = "High"
	ImpactMedium Impact = "Medium"
	ImpactLow    Impact = "Low"
)

type FeedbackInput struct {
	Feedback string `json:"feedback"`
}

type FeedbackAnalysis struct {
	Summary         string `json:"summary"`
	ImpactLevel     Impact `json:"impactLevel,omitempty"`
	SuggestedAction string `json:"suggestedAction"`
}

var feedbackFlow = flow[FeedbackInput, FeedbackAnalysis]{
	name: "analyzeFeedback",
	schema: object(map[string]*genai.Schema{
		"summary": str("A concise summary of the feedback, highlighting key issues and sentiments."),
		"impactLevel": {
			Type:        genai.TypeString,
			Enum:        []string{"High", "Medium", "Low"},
			Description: "The assessed impact level of the feedback.",
		},
		"suggestedAction": str("A suggested next step to address the feedback."),
	}, "summary", "impactLevel", "suggestedAction"),
	validate: func(in FeedbackInput) error { return required("feedback", in.Feedback) },
	build: func(in FeedbackInput) (string, []Image) {
		return `You are an AI assistant tasked with analyzing parent feedback about the Mid-Day Meal program for district officers.
Analyze the feedback provided and perform the following tasks:
1. Create a concise summary that highlights the key issues, sentiments, and suggestions mentioned.
2. Assess the impact level of the feedback as 'High', 'Medium', or 'Low'. High-impact issues are those that affect health, safety, or widespread dissatisfaction.
3. Provide a clear, actionable "suggested next step" to address the feedback.

Feedback: ` + in.Feedback, nil
	},
	check: func(out *FeedbackAnalysis) error {
		switch out.ImpactLevel {
		case ImpactHigh, ImpactMedium, ImpactLow:
		default:
			return fmt.Errorf("impactLevel %q", out.ImpactLevel)
		}
		return required("summary", out.Summary)
	},
	fallback: func(in FeedbackInput) FeedbackAnalysis {
		return FeedbackAnalysis{Summary: truncate(strings.TrimSpace(in.Feedback), 280)}
	},
	notice: "Feedback analysis failed. Please assess the impact and next step manually.",
}

// AnalyzeFeedback summarizes parent feedback for district officers.
func (r *Runner) AnalyzeFeedback(ctx context.Context, in FeedbackInput) (Outcome[FeedbackAnalysis], error) {
	return run(ctx, r, feedbackFlow, in)
}

// ---- hygiene ----

const (
	Clean          = "Clean"
	NeedsAttention = "Needs Attention"
)

type HygieneInput struct {
	Photo    []byte
	MIMEType string
}

type HygieneAssessment struct {
	Cleanliness string `json:"cleanliness"`
}

var hygieneFlow = flow[HygieneInput, HygieneAssessment]{
	name: "checkHygiene",
	schema: object(map[string]*genai.Schema{
		"cleanliness": {
			Type:        genai.TypeString,
			Enum:        []string{Clean, NeedsAttention},
			Description: "The cleanliness assessment of the kitchen.",
		},
	}, "cleanliness"),
	validate: func(in HygieneInput) error {
		if len(in.Photo) == 0 {
			return errors.New("photo is required")
		}
		return required("mime type", in.MIMEType)
	},
	build: func(in HygieneInput) (string, []Image) {
		return `You are a hygiene inspector providing feedback on kitchen cleanliness.
Analyze the provided photo and provide an assessment of the kitchen's cleanliness.
Respond with one of the following options: "Clean", "Needs Attention".`,
			[]Image{{Data: in.Photo, MIMEType: in.MIMEType}}
	},
	check: func(out *HygieneAssessment) error {
		if out.Cleanliness != Clean && out.Cleanliness != NeedsAttention {
			return fmt.Errorf("cleanliness %q", out.Cleanliness)
		}
		return nil
	},
	fallback: func(HygieneInput) HygieneAssessment {
		return HygieneAssessment{Cleanliness: NeedsAttention}
	},
	notice: "Hygiene analysis failed. The photo was saved for manual review.",
}

// CheckHygiene assesses a kitchen photo.
func (r *Runner) CheckHygiene(ctx context.Context, in HygieneInput) (Outcome[HygieneAssessment], error) {
	return run(ctx, r, hygieneFlow, in)
}

// ---- purchase plan ----

type PurchasePlanInput struct {
	MealName         string `json:"mealName"`
	NumberOfStudents int    `json:"numberOfStudents"`
}

type Ingredient struct {
	Item          string  `json:"item"`
	Quantity      string  `json:"quantity"`
	EstimatedCost float64 `json:"estimatedCost"`
}

type PurchasePlan struct {
	PurchaseList       []Ingredient `json:"purchaseList"`
	TotalEstimatedCost float64      `json:"totalEstimatedCost"`
}

// Total sums the line items.
func (p PurchasePlan) Total() float64 {
	var sum float64
	for _, it := range p.PurchaseList {
		sum += it.EstimatedCost
	}
	return sum
}

var purchasePlanFlow = flow[PurchasePlanInput, PurchasePlan]{
	name: "generatePurchasePlan",
	schema: object(map[string]*genai.Schema{
		"purchaseList": {
			Type:        genai.TypeArray,
			Description: "A list of ingredients, their quantities, and estimated costs to purchase.",
			Items: object(map[string]*genai.Schema{
				"item":          str("The ingredient name."),
				"quantity":      str("The quantity to purchase (e.g., '45 kg', '3 L')."),
				"estimatedCost": num("The estimated cost for the ingredient in INR."),
			}, "item", "quantity", "estimatedCost"),
		},
		"totalEstimatedCost": num("The total estimated cost for all ingredients in INR."),
	}, "purchaseList", "totalEstimatedCost"),
	validate: func(in PurchasePlanInput) error {
		if in.NumberOfStudents <= 0 {
			return errors.New("numberOfStudents must be positive")
		}
		return required("mealName", in.MealName)
	},
	build: func(in PurchasePlanInput) (string, []Image) {
		return fmt.Sprintf(`You are an expert purchase manager for a school's Mid-Day Meal program. Your task is to create a smart purchase plan for a specific meal for a given number of students.
The plan should list all the necessary ingredients, the quantities required, and an estimated cost in INR for each ingredient to prepare the meal for %[2]d students.
Also provide a total estimated cost for all ingredients.
Use current, realistic market prices for ingredients in India.

Meal: %[1]s
Number of Students: %[2]d`, in.MealName, in.NumberOfStudents), nil
	},
	check: func(out *PurchasePlan) error {
		if len(out.PurchaseList) == 0 {
			return errors.New("empty purchase list")
		}
		for _, it := range out.PurchaseList {
			if it.EstimatedCost < 0 || strings.TrimSpace(it.Item) == "" {
				return fmt.Errorf("bad line item %q", it.Item)
			}
		}
		// The model's arithmetic is not trusted.
		out.TotalEstimatedCost = math.Round(out.Total()*100) / 100
		return nil
	},
	fallback: func(PurchasePlanInput) PurchasePlan {
		return PurchasePlan{PurchaseList: []Ingredient{}}
	},
	notice: "Cost estimation failed. Please enter items and costs manually.",
}

// GeneratePurchasePlan lists ingredients and costs for one meal.
func (r *Runner) GeneratePurchasePlan(ctx context.Context, in PurchasePlanInput) (Outcome[PurchasePlan], error) {
	return run(ctx, r, purchasePlanFlow, in)
}

// ---- meal plan ----

type MealPlanInput struct {
	State         string `json:"state"`
	CulturalFocus string `json:"culturalFocus"`
}

type Nutrients struct {
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fats          float64 `json:"fats"`
}

type Meal struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Calories    float64   `json:"calories"`
	Nutrients   Nutrients `json:"nutrients"`
}

type MealPlan struct {
	Breakfast Meal `json:"breakfast"`
	Lunch     Meal `json:"lunch"`
	Snacks    Meal `json:"snacks"`
}

func mealSchema() *genai.Schema {
	return object(map[string]*genai.Schema{
		"name":        str("The name of the dish."),
		"description": str("A brief description of the dish and its ingredients."),
		"calories":    num("Estimated calorie count."),
		"nutrients": object(map[string]*genai.Schema{
			"protein":       num("Percentage of protein."),
			"carbohydrates": num("Percentage of carbohydrates."),
			"fats":          num("Percentage of fats."),
		}, "protein", "carbohydrates", "fats"),
	}, "name", "description", "calories", "nutrients")
}

var mealPlanFlow = flow[MealPlanInput, MealPlan]{
	name: "planMeal",
	schema: object(map[string]*genai.Schema{
		"breakfast": mealSchema(),
		"lunch":     mealSchema(),
		"snacks":    mealSchema(),
	}, "breakfast", "lunch", "snacks"),
	validate: func(in MealPlanInput) error {
		return errors.Join(required("state", in.State), required("culturalFocus", in.CulturalFocus))
	},
	build: func(in MealPlanInput) (string, []Image) {
		return fmt.Sprintf(`You are an expert nutritionist and chef specializing in Indian cuisine for the Mid-Day Meal Scheme. Your task is to create a balanced, nutritious, and culturally appropriate meal plan for a school for one day.
The meal plan should consist of breakfast, lunch, and an evening snack.

Consider the following:
- The plan is for children in the state of %s.
- The meal should reflect %s culinary traditions.
- The meal should be cost-effective and use locally available ingredients.
- The meal should be balanced with essential nutrients (proteins, carbohydrates, fats, vitamins, minerals).

Generate a meal plan with a name, description, estimated calorie count, and nutrient breakdown (protein, carbohydrates, fats as percentages) for each meal.`,
			in.State, in.CulturalFocus), nil
	},
	check: func(out *MealPlan) error {
		for label, m := range map[string]Meal{"breakfast": out.Breakfast, "lunch": out.Lunch, "snacks": out.Snacks} {
			if strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("%s has no name", label)
			}
			if m.Calories < 0 {
				return fmt.Errorf("%s calories %v", label, m.Calories)
			}
		}
		return nil
	},
	fallback: func(MealPlanInput) MealPlan { return MealPlan{} },
	notice:   "Meal planning failed. Please plan today's menu manually.",
}

// PlanMeal proposes breakfast, lunch and snacks for one school day.
func (r *Runner) PlanMeal(ctx context.Context, in MealPlanInput) (Outcome[MealPlan], error) {
	return run(ctx, r, mealPlanFlow, in)
}

// ---- donation ----

type DonationInput struct {
	FoodItem string  `json:"foodItem"`
	Quantity float64 `json:"quantity"`
}

type Charity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type DonationSuggestion struct {
	DonationMessage    string    `json:"donationMessage"`
	SuggestedCharities []Charity `json:"suggestedCharities"`
}

var donationFlow = flow[DonationInput, DonationSuggestion]{
	name: "suggestDonation",
	schema: object(map[string]*genai.Schema{
		"donationMessage": str("A message to be sent to NGOs about the donation."),
		"suggestedCharities": {
			Type:        genai.TypeArray,
			Description: "A list of suggested nearby charities or food banks.",
			Items: object(map[string]*genai.Schema{
				"name":    str("The name of the charity."),
				"address": str("The address of the charity."),
			}, "name", "address"),
		},
	}, "donationMessage", "suggestedCharities"),
	validate: func(in DonationInput) error {
		if in.Quantity <= 0 {
			return errors.New("quantity must be positive")
		}
		return required("foodItem", in.FoodItem)
	},
	build: func(in DonationInput) (string, []Image) {
		return fmt.Sprintf(`You are an AI assistant helping a school's Mid-Day Meal program donate surplus food.
Based on the food item and quantity, generate a concise and clear message to send to local NGOs. Also, suggest 3 fictional local charities that would accept this kind of food donation.

Food Item: %s
Quantity: %g kg

Generate a donation message and a list of suggested charities.`, in.FoodItem, in.Quantity), nil
	},
	check: func(out *DonationSuggestion) error {
		return required("donationMessage", out.DonationMessage)
	},
	fallback: func(in DonationInput) DonationSuggestion {
		return DonationSuggestion{
			DonationMessage: fmt.Sprintf("Surplus food available for donation: %g kg of %s. Please contact the school to arrange pickup today.",
				in.Quantity, strings.TrimSpace(in.FoodItem)),
			SuggestedCharities: []Charity{},
		}
	},
	notice: "Donation suggestions failed. A default message was prepared; add recipients manually.",
}

// SuggestDonation drafts an NGO message for surplus food.
func (r *Runner) SuggestDonation(ctx context.Context, in DonationInput) (Outcome[DonationSuggestion], error) {
	return run(ctx, r, donationFlow, in)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
