package directory

import "errors"

var (
	ErrAlreadyExists = errors.New("directory: already exists")
	ErrOrgNotFound   = errors.New("directory: organization not found")
	ErrUnitNotFound  = errors.New("directory: unit not found")
)
