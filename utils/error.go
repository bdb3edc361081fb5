package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

var ErrorNotImplemented = errors.New("not implemented")
