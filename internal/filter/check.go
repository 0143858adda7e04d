package filter

import (
	"reflect"

	"sqlprovider/internal/apperr"
)

// DefaultMaxDepth bounds group nesting.
const DefaultMaxDepth = 10

// Check rejects cyclic node trees and trees nested deeper than maxDepth.
// Cycles are detected by group identity along the current path, so a group
// shared by two siblings is fine.
func Check(nodes []Node, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return checkNodes(nodes, 0, maxDepth, make(map[*Group]struct{}))
}

func checkNodes(nodes []Node, depth, maxDepth int, path map[*Group]struct{}) error {
	for _, node := range nodes {
		group, ok := node.(*Group)
		if !ok || group == nil {
			continue
		}
		if _, seen := path[group]; seen {
			return apperr.Validation("circular reference detected in filter")
		}
		if depth+1 > maxDepth {
			return apperr.Validation("filter nesting exceeds maximum depth of %d", maxDepth)
		}
		path[group] = struct{}{}
		if err := checkNodes(group.Children, depth+1, maxDepth, path); err != nil {
			return err
		}
		delete(path, group)
	}
	return nil
}

type containerID struct {
	ptr uintptr
	len int
	typ reflect.Type
}

// checkRaw walks decoded input (maps and slices nested to any type) and
// rejects self-referencing structures before any interpretation happens.
// maxContainers bounds how deep the walk may go.
func checkRaw(raw interface{}, maxContainers int) error {
	return walkRaw(reflect.ValueOf(raw), 0, maxContainers, make(map[containerID]struct{}))
}

func walkRaw(v reflect.Value, depth, maxContainers int, path map[containerID]struct{}) error {
	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr) {
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Ptr {
			id := containerID{ptr: v.Pointer(), typ: v.Type()}
			if _, seen := path[id]; seen {
				return apperr.Validation("circular reference detected in filter")
			}
			path[id] = struct{}{}
			defer delete(path, id)
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Map, reflect.Slice:
		if v.IsNil() {
			return nil
		}
		id := containerID{ptr: v.Pointer(), len: v.Len(), typ: v.Type()}
		if _, seen := path[id]; seen {
			return apperr.Validation("circular reference detected in filter")
		}
		if depth+1 > maxContainers {
			return apperr.Validation("filter nesting exceeds maximum depth")
		}
		path[id] = struct{}{}
		defer delete(path, id)

		if v.Kind() == reflect.Map {
			iter := v.MapRange()
			for iter.Next() {
				if err := walkRaw(iter.Value(), depth+1, maxContainers, path); err != nil {
					return err
				}
			}
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := walkRaw(v.Index(i), depth+1, maxContainers, path); err != nil {
				return err
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkRaw(v.Index(i), depth+1, maxContainers, path); err != nil {
				return err
			}
		}
	}
	return nil
}
