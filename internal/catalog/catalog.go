// Package catalog holds the static document templates a closing checklist is
// generated from. The tables are read-only; every accessor returns a copy.
package catalog

import "fmt"

// LegalType is the kind of person a party is.
type LegalType string

const (
	LegalIndividual LegalType = "individual"
	LegalEntity     LegalType = "legal-entity"
)

// Category groups documents that are not owned by a party.
type Category string

const (
	CategoryClosing Category = "closing"
	CategoryNotary  Category = "notary"
	CategoryEscrow  Category = "escrow"
)

// OperationType is the kind of closing transaction.
type OperationType string

const (
	TrustConstitution  OperationType = "trust-constitution"
	EscrowPurchase     OperationType = "escrow-purchase"
	DirectPurchase     OperationType = "direct-purchase"
	TrusteeRecognition OperationType = "trustee-recognition"
)

type Template struct {
	Label    Label
	Required bool
}

// AttorneyPrefix marks documents a legal entity's attorney-in-fact must supply.
var AttorneyPrefix = NewLabel("(Apoderado) ", "(Attorney) ")

var individualDocs = []Template{
	{Label: NewLabel("Identificación oficial vigente (INE/Pasaporte)", "Valid official ID (INE/Passport)"), Required: true},
	{Label: NewLabel("Forma migratoria (FM/visa/residencia)", "Immigration form (FM/visa/residency)"), Required: false},
	{Label: NewLabel("CURP", "CURP (population registry code)"), Required: true},
	{Label: NewLabel("RFC / Cédula de identificación fiscal", "RFC / Tax ID certificate"), Required: true},
	{Label: NewLabel("Comprobante de domicilio (<1 mes)", "Proof of address (<1 month)"), Required: true},
	{Label: NewLabel("Acta de nacimiento", "Birth certificate"), Required: true},
	{Label: NewLabel("Acta de matrimonio (si aplica)", "Marriage certificate (if applicable)"), Required: false},
	{Label: NewLabel("KYC firmado", "Signed KYC"), Required: true},
	{Label: NewLabel("Comprobante de fondos", "Proof of funds"), Required: true},
	{Label: NewLabel("Constancia de situación fiscal", "Tax status certificate"), Required: true},
	{Label: NewLabel("Designación de beneficiarios sustitutos", "Substitute beneficiary designation"), Required: false},
}

var companyDocs = []Template{
	{Label: NewLabel("Acta constitutiva", "Articles of incorporation"), Required: true},
	{Label: NewLabel("Inscripción en el Registro Público de Comercio", "Public Registry of Commerce filing"), Required: true},
	{Label: NewLabel("RFC de la empresa", "Company RFC"), Required: true},
	{Label: NewLabel("Constancia de situación fiscal", "Tax status certificate"), Required: true},
	{Label: NewLabel("Comprobante de domicilio fiscal (<1 mes)", "Proof of fiscal address (<1 month)"), Required: true},
	{Label: NewLabel("Acta de asamblea que autoriza la operación", "Shareholders' resolution authorising the sale"), Required: true},
	{Label: NewLabel("Estructura accionaria", "Shareholder structure"), Required: false},
}

var attorneyDocs = []Template{
	{Label: NewLabel("Poder notarial vigente", "Valid notarised power of attorney"), Required: true},
	{Label: NewLabel("Identificación oficial vigente (INE/Pasaporte)", "Valid official ID (INE/Passport)"), Required: true},
	{Label: NewLabel("CURP", "CURP (population registry code)"), Required: true},
	{Label: NewLabel("RFC", "RFC (tax ID)"), Required: true},
	{Label: NewLabel("Comprobante de domicilio (<1 mes)", "Proof of address (<1 month)"), Required: true},
	{Label: NewLabel("Forma migratoria (si aplica)", "Immigration form (if applicable)"), Required: false},
	{Label: NewLabel("KYC firmado", "Signed KYC"), Required: true},
}

var categoryDocs = map[Category][]Template{
	CategoryClosing: {
		{Label: NewLabel("Oferta de compra firmada", "Signed purchase offer"), Required: true},
		{Label: NewLabel("Proyecto de escritura", "Draft deed"), Required: true},
		{Label: NewLabel("Avalúo", "Appraisal"), Required: true},
		{Label: NewLabel("Predial al corriente", "Property tax paid to date"), Required: true},
		{Label: NewLabel("Reglamento de condominio (si aplica)", "Condominium bylaws (if applicable)"), Required: false},
	},
	CategoryNotary: {
		{Label: NewLabel("Certificado de libertad de gravámenes", "Lien-free certificate"), Required: true},
		{Label: NewLabel("Constancia de no adeudo de agua", "Water no-debt certificate"), Required: true},
		{Label: NewLabel("Avalúo catastral", "Cadastral appraisal"), Required: true},
	},
	CategoryEscrow: {
		{Label: NewLabel("Contrato de escrow", "Escrow agreement"), Required: true},
		{Label: NewLabel("Instrucciones de depósito", "Deposit instructions"), Required: true},
		{Label: NewLabel("Comprobante de depósito", "Deposit receipt"), Required: false},
	},
}

var generalCategories = []Category{CategoryClosing, CategoryNotary, CategoryEscrow}

func IndividualDocs() []Template { return clone(individualDocs) }

func CompanyDocs() []Template { return clone(companyDocs) }

// AttorneyDocs returns the attorney-in-fact templates without the marker.
func AttorneyDocs() []Template { return clone(attorneyDocs) }

// AttorneyDocsPrefixed returns the attorney-in-fact templates with
// AttorneyPrefix applied in every language.
func AttorneyDocsPrefixed() []Template {
	out := clone(attorneyDocs)
	for i := range out {
		out[i].Label = out[i].Label.WithPrefix(AttorneyPrefix)
	}
	return out
}

// PartyDocs returns the ordered templates for a party of the given legal type.
// The bool is false for an unknown legal type.
func PartyDocs(legalType LegalType) ([]Template, bool) {
	switch legalType {
	case LegalIndividual:
		return IndividualDocs(), true
	case LegalEntity:
		return append(CompanyDocs(), AttorneyDocsPrefixed()...), true
	default:
		return nil, false
	}
}

func CategoryDocs(category Category) []Template {
	return clone(categoryDocs[category])
}

// GeneralCategories returns the categories in declaration order.
func GeneralCategories() []Category {
	out := make([]Category, len(generalCategories))
	copy(out, generalCategories)
	return out
}

func ParseLegalType(value string) (LegalType, error) {
	switch LegalType(value) {
	case LegalIndividual, LegalEntity:
		return LegalType(value), nil
	default:
		return "", fmt.Errorf("unknown legal type %q", value)
	}
}

func ParseCategory(value string) (Category, error) {
	for _, category := range generalCategories {
		if Category(value) == category {
			return category, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", value)
}

func ParseOperationType(value string) (OperationType, error) {
	switch OperationType(value) {
	case TrustConstitution, EscrowPurchase, DirectPurchase, TrusteeRecognition:
		return OperationType(value), nil
	default:
		return "", fmt.Errorf("unknown operation type %q", value)
	}
}

// OperationLabels are the display names of each operation type.
var OperationLabels = map[OperationType]Label{
	TrustConstitution:  NewLabel("Constitución de Fideicomiso", "Trust Constitution"),
	EscrowPurchase:     NewLabel("Compraventa con Escrow", "Escrow Purchase"),
	DirectPurchase:     NewLabel("Compraventa Directa", "Direct Purchase"),
	TrusteeRecognition: NewLabel("Reconocimiento de Fideicomisario", "Trustee Recognition"),
}

// CategoryLabels are the display names of each general category.
var CategoryLabels = map[Category]Label{
	CategoryClosing: NewLabel("Cierre", "Closing"),
	CategoryNotary:  NewLabel("Notario", "Notary"),
	CategoryEscrow:  NewLabel("Escrow", "Escrow"),
}

// RoleLabels are the display names of party roles.
var RoleLabels = map[string]Label{
	"buyer":  NewLabel("Comprador", "Buyer"),
	"seller": NewLabel("Vendedor", "Seller"),
}

// LegalTypeLabels are the display names of each legal type.
var LegalTypeLabels = map[LegalType]Label{
	LegalIndividual: NewLabel("Persona física", "Individual"),
	LegalEntity:     NewLabel("Persona moral", "Legal entity"),
}

func clone(in []Template) []Template {
	out := make([]Template, len(in))
	for i, t := range in {
		out[i] = Template{Label: t.Label.Clone(), Required: t.Required}
	}
	return out
}
