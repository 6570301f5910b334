package main

import "context"

// resolveProject resolves the --project flag to a project id, creating the
// project on first use.
func resolveProject(ctx context.Context) (string, error) {
	p, err := engine.EnsureProject(ctx, projectArg)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
