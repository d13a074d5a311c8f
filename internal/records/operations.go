package records

import "github.com/jobrunner/owsgate/internal/domain"

// XMLSchemaLanguage is the schema language DescribeRecord answers in.
const XMLSchemaLanguage = "http://www.w3.org/TR/xmlschema-1/"

// OperationParameters returns the per operation parameter domains a catalog
// store serving types reports in its capabilities.
func OperationParameters(types []domain.TypeDescriptor) map[string][]domain.Domain {
	var names, schemas []string
	seen := make(map[string]bool)
	for _, t := range types {
		names = append(names, t.Name().String())
		if s := t.OutputSchema(); !seen[s] {
			seen[s] = true
			schemas = append(schemas, s)
		}
	}
	elementSets := []string{
		string(domain.ElementSetBrief),
		string(domain.ElementSetSummary),
		string(domain.ElementSetFull),
	}
	resultTypes := []string{
		string(domain.ResultTypeHits),
		string(domain.ResultTypeResults),
		string(domain.ResultTypeValidate),
	}
	formats := []string{"application/xml", "application/json"}

	return map[string][]domain.Domain{
		"GetCapabilities": {
			{Name: "sections", Values: []string{
				string(domain.SectionServiceIdentification),
				string(domain.SectionServiceProvider),
				string(domain.SectionOperationsMetadata),
				string(domain.SectionFilterCapabilities),
			}},
		},
		"DescribeRecord": {
			{Name: "outputFormat", Values: []string{"application/xml"}},
			{Name: "schemaLanguage", Values: []string{XMLSchemaLanguage}},
			{Name: "typeName", Values: names},
		},
		"GetRecords": {
			{Name: "resultType", Values: resultTypes},
			{Name: "outputFormat", Values: formats},
			{Name: "outputSchema", Values: schemas},
			{Name: "typeNames", Values: names},
			{Name: "CONSTRAINTLANGUAGE", Values: []string{"FILTER", "CQL_TEXT"}},
			{Name: "ElementSetName", Values: elementSets},
		},
		"GetRecordById": {
			{Name: "outputSchema", Values: schemas},
			{Name: "outputFormat", Values: formats},
			{Name: "resultType", Values: resultTypes},
			{Name: "ElementSetName", Values: elementSets},
		},
		"GetDomain": {
			{Name: "ParameterName"},
			{Name: "PropertyName"},
		},
	}
}
