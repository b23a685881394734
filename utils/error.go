package utils

import "errors"

// ErrorRecordNotFound marks lookups that found nothing, as opposed to lookups
// that failed. Callers translate it to a 404.
var ErrorRecordNotFound = errors.New("record not found")
