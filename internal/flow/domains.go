package flow

import (
	"strings"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// DomainGeneral is the fallback domain for unrecognised tags.
const DomainGeneral = "general"

// assumptionTemplate is one entry of a domain's deterministic fallback set.
type assumptionTemplate struct {
	Category            string
	Title               string
	Description         string
	Impact              models.Impact
	Dependencies        []string
	ValidationQuestions []string
	Alternatives        []string
}

// DomainProfile holds per-domain question budgets and fallback assumptions.
type DomainProfile struct {
	Name string
	// ExpectedQuestions is indexed by Stage.Index() for the four content stages.
	ExpectedQuestions [models.NumContentStages]int
	KeyConcerns       []string
	templates         []assumptionTemplate
}

// ExpectedFor returns the expected question count for a content stage, or 0.
func (p DomainProfile) ExpectedFor(s models.Stage) int {
	i := s.Index()
	if i < 0 || i >= models.NumContentStages {
		return 0
	}
	return p.ExpectedQuestions[i]
}

// LookupDomain returns the profile for a domain tag. Unknown domains map to
// general; an empty tag is a configuration error.
func LookupDomain(domain string) (DomainProfile, error) {
	key := strings.ToLower(strings.TrimSpace(domain))
	if key == "" {
		return DomainProfile{}, models.NewConfigurationError("domain", models.ErrUnknownDomain)
	}
	if p, ok := domainProfiles[key]; ok {
		return p, nil
	}
	return domainProfiles[DomainGeneral], nil
}

// KnownDomains lists the domain tags with dedicated profiles.
func KnownDomains() []string {
	return []string{"healthcare", "fintech", "ecommerce", "education", "saas", DomainGeneral}
}

var domainProfiles = map[string]DomainProfile{
	"healthcare": {
		Name:              "healthcare",
		ExpectedQuestions: [models.NumContentStages]int{4, 4, 5, 3},
		KeyConcerns:       []string{"patient privacy", "HIPAA compliance", "clinical workflow", "EHR integration"},
		templates: []assumptionTemplate{
			{
				Category:            "compliance",
				Title:               "HIPAA-compliant data handling",
				Description:         "Protected health information is encrypted at rest and in transit, with audit logging on every access.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Will the product store or transmit protected health information?"},
				Alternatives:        []string{"De-identified data only", "Third-party HIPAA-compliant storage"},
			},
			{
				Category:            "users",
				Title:               "Clinicians are primary users",
				Description:         "Doctors and nurses use the product during or between patient encounters and need fast, low-friction input.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Who enters data day to day: clinicians, staff, or patients?"},
				Alternatives:        []string{"Patient-facing portal", "Administrative staff tool"},
			},
			{
				Category:            "integration",
				Title:               "EHR integration via FHIR",
				Description:         "Patient records are read from and written to existing EHR systems through HL7 FHIR APIs.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"HIPAA-compliant data handling"},
				ValidationQuestions: []string{"Which EHR systems must the product connect to?"},
				Alternatives:        []string{"Standalone record keeping", "CSV import/export"},
			},
			{
				Category:            "technical",
				Title:               "Role-based access control",
				Description:         "Access to records is restricted by role with least-privilege defaults.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"Clinicians are primary users"},
				ValidationQuestions: []string{"Which roles need read versus write access?"},
			},
		},
	},
	"fintech": {
		Name:              "fintech",
		ExpectedQuestions: [models.NumContentStages]int{4, 4, 5, 3},
		KeyConcerns:       []string{"regulatory compliance", "fraud prevention", "transaction integrity", "KYC"},
		templates: []assumptionTemplate{
			{
				Category:            "compliance",
				Title:               "KYC and AML checks required",
				Description:         "Users are identity-verified before moving money, and transactions are screened for anti-money-laundering rules.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Does the product hold or move customer funds?"},
				Alternatives:        []string{"Partner bank handles KYC", "Read-only financial data"},
			},
			{
				Category:            "technical",
				Title:               "Double-entry ledger",
				Description:         "Balances are derived from an append-only double-entry ledger so every transaction is auditable.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Do you need to reconcile balances against an external system?"},
				Alternatives:        []string{"Processor-managed balances"},
			},
			{
				Category:            "integration",
				Title:               "Payment processor integration",
				Description:         "Card and bank payments run through an established processor rather than direct network access.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"KYC and AML checks required"},
				ValidationQuestions: []string{"Which payment methods must be supported at launch?"},
				Alternatives:        []string{"ACH only", "Crypto rails"},
			},
			{
				Category:            "security",
				Title:               "Multi-factor authentication",
				Description:         "Sensitive actions require a second authentication factor.",
				Impact:              models.ImpactMedium,
				ValidationQuestions: []string{"Which actions are sensitive enough to require step-up authentication?"},
			},
		},
	},
	"ecommerce": {
		Name:              "ecommerce",
		ExpectedQuestions: [models.NumContentStages]int{3, 4, 4, 3},
		KeyConcerns:       []string{"catalog", "checkout conversion", "inventory", "fulfilment"},
		templates: []assumptionTemplate{
			{
				Category:            "business",
				Title:               "Direct-to-consumer storefront",
				Description:         "The product sells physical goods directly to consumers through a web storefront.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Are you selling your own products or running a marketplace?"},
				Alternatives:        []string{"Multi-vendor marketplace", "B2B wholesale portal"},
			},
			{
				Category:            "integration",
				Title:               "Hosted payment checkout",
				Description:         "Checkout uses a hosted payment provider to keep card data out of scope.",
				Impact:              models.ImpactHigh,
				Dependencies:        []string{"Direct-to-consumer storefront"},
				ValidationQuestions: []string{"Which payment providers do your customers expect?"},
			},
			{
				Category:            "technical",
				Title:               "Real-time inventory tracking",
				Description:         "Stock levels update on every order so customers cannot buy unavailable items.",
				Impact:              models.ImpactMedium,
				ValidationQuestions: []string{"Where does inventory live today?"},
				Alternatives:        []string{"Nightly inventory sync"},
			},
		},
	},
	"education": {
		Name:              "education",
		ExpectedQuestions: [models.NumContentStages]int{3, 4, 4, 3},
		KeyConcerns:       []string{"learner outcomes", "instructor workflow", "accessibility", "student privacy"},
		templates: []assumptionTemplate{
			{
				Category:            "users",
				Title:               "Instructors and learners as distinct roles",
				Description:         "Instructors create and assess content while learners consume it and submit work.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Who creates the learning content?"},
				Alternatives:        []string{"Self-paced learners only"},
			},
			{
				Category:            "compliance",
				Title:               "Student data privacy",
				Description:         "Student records are handled under FERPA/COPPA constraints with parental consent where minors are involved.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Will any learners be under 13?"},
			},
			{
				Category:            "technical",
				Title:               "Accessible content delivery",
				Description:         "All learning material meets WCAG 2.1 AA accessibility guidelines.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"Instructors and learners as distinct roles"},
				ValidationQuestions: []string{"Do you have accessibility requirements from institutions?"},
			},
		},
	},
	"saas": {
		Name:              "saas",
		ExpectedQuestions: [models.NumContentStages]int{3, 4, 5, 3},
		KeyConcerns:       []string{"multi-tenancy", "subscription billing", "onboarding", "integrations"},
		templates: []assumptionTemplate{
			{
				Category:            "technical",
				Title:               "Multi-tenant architecture",
				Description:         "Each customer organisation is an isolated tenant sharing one deployment.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Do any customers need dedicated infrastructure?"},
				Alternatives:        []string{"Single-tenant deployments per customer"},
			},
			{
				Category:            "business",
				Title:               "Subscription billing per seat",
				Description:         "Customers pay a recurring subscription priced by number of seats.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"Multi-tenant architecture"},
				ValidationQuestions: []string{"How do you plan to price the product?"},
				Alternatives:        []string{"Usage-based pricing", "Flat tiered plans"},
			},
			{
				Category:            "integration",
				Title:               "SSO for business customers",
				Description:         "Business tenants sign in through SAML or OIDC single sign-on.",
				Impact:              models.ImpactMedium,
				ValidationQuestions: []string{"Which identity providers do your customers use?"},
			},
		},
	},
	DomainGeneral: {
		Name:              DomainGeneral,
		ExpectedQuestions: [models.NumContentStages]int{3, 3, 4, 3},
		KeyConcerns:       []string{"core problem", "target users", "key workflows", "constraints"},
		templates: []assumptionTemplate{
			{
				Category:            "business",
				Title:               "Single primary user persona",
				Description:         "The first release targets one primary persona whose main job the product simplifies.",
				Impact:              models.ImpactHigh,
				ValidationQuestions: []string{"Who is the one user you must delight first?"},
				Alternatives:        []string{"Multiple personas at launch"},
			},
			{
				Category:            "technical",
				Title:               "Web application first",
				Description:         "The product ships as a responsive web application before any native clients.",
				Impact:              models.ImpactMedium,
				Dependencies:        []string{"Single primary user persona"},
				ValidationQuestions: []string{"Do users need offline or mobile-native access?"},
				Alternatives:        []string{"Mobile app first", "Desktop application"},
			},
			{
				Category:            "technical",
				Title:               "Email and password authentication",
				Description:         "Users sign up and sign in with email and password, with password reset by email.",
				Impact:              models.ImpactLow,
				ValidationQuestions: []string{"Should users sign in with an existing account such as Google?"},
				Alternatives:        []string{"Social login", "Magic links"},
			},
		},
	},
}
