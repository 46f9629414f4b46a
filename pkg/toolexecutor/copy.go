package toolexecutor

import (
	"fmt"
	"reflect"
)

// deepCopyArgs copies args so that mutations of the copy never reach the caller's value.
// Functions, channels, unsafe pointers and cyclic pointer graphs cannot be copied.
func deepCopyArgs(args map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}

	c := copier{visiting: make(map[uintptr]bool)}
	out, err := c.copy(reflect.ValueOf(args))
	if err != nil {
		return nil, err
	}
	return out.Interface().(map[string]interface{}), nil
}

type copier struct {
	visiting map[uintptr]bool
}

func (c *copier) copy(v reflect.Value) (reflect.Value, error) {
	switch v.Kind() {
	case reflect.Invalid:
		return v, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: value of kind %s", ErrArgsNotCopyable, v.Kind())

	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		inner, err := c.copy(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(inner)
		return out, nil

	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		addr := v.Pointer()
		if c.visiting[addr] {
			return reflect.Value{}, fmt.Errorf("%w: cyclic reference", ErrArgsNotCopyable)
		}
		c.visiting[addr] = true
		defer delete(c.visiting, addr)

		inner, err := c.copy(v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(inner)
		return out, nil

	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		addr := v.Pointer()
		if c.visiting[addr] {
			return reflect.Value{}, fmt.Errorf("%w: cyclic reference", ErrArgsNotCopyable)
		}
		c.visiting[addr] = true
		defer delete(c.visiting, addr)

		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, err := c.copy(iter.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(iter.Key(), val)
		}
		return out, nil

	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		addr := v.Pointer()
		if v.Len() > 0 {
			if c.visiting[addr] {
				return reflect.Value{}, fmt.Errorf("%w: cyclic reference", ErrArgsNotCopyable)
			}
			c.visiting[addr] = true
			defer delete(c.visiting, addr)
		}

		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := c.copy(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := c.copy(v.Index(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(elem)
		}
		return out, nil

	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		// Unexported fields are copied by value; exported ones are copied deeply.
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			field, err := c.copy(v.Field(i))
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(i).Set(field)
		}
		return out, nil

	default:
		return v, nil
	}
}
