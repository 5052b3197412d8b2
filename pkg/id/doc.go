// Package id provides small, sortable unique identifiers.
//
// IDs embed a millisecond timestamp in their high bytes, so byte-wise
// ordering matches creation order. They are used to identify records when
// the producer does not supply its own id.
package id
