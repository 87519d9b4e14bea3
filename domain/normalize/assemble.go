// Package normalize turns provider-native cost documents into normalized rows.
//
// Mappers never fail: absent fields get defaults, malformed numbers become zero
// and unrecognized documents produce no rows.
package normalize

import "cloud-costs/domain/cloudspending"

// Assemble concatenates AWS rows and Azure rows, in that order, preserving each
// mapper's order. It neither sorts nor deduplicates.
func Assemble(awsDoc, azureDoc []byte) []cloudspending.Row {
	awsRows := AWS(awsDoc)
	azureRows := Azure(azureDoc)

	rows := make([]cloudspending.Row, 0, len(awsRows)+len(azureRows))
	rows = append(rows, awsRows...)
	return append(rows, azureRows...)
}
