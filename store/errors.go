package store

import "github.com/orbital-run/jobctl/platform"

func notFound(entity, id string) error {
	return platform.NewError("store", platform.KindNotFound, entity+" not found").WithEntity(entity, id)
}

func conflict(op, entity, id, msg string) error {
	return platform.NewError(op, platform.KindConflict, msg).WithEntity(entity, id)
}
