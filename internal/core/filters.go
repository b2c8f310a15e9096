package core

import (
	"strings"

	"alert-classifier/pkg/api"
)

// Filter selects predictions, e.g. when querying the stored results of a
// classification job.
type Filter interface {
	Matches(pred api.Prediction) bool
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(pred api.Prediction) bool {
	for _, filter := range f.filters {
		if !filter.Matches(pred) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(pred api.Prediction) bool {
	for _, filter := range f.filters {
		if filter.Matches(pred) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(pred api.Prediction) bool {
	return !f.filter.Matches(pred)
}

type ProbLtFilter struct {
	class string
	value float64
}

func (f *ProbLtFilter) Matches(pred api.Prediction) bool {
	p, ok := pred.Probabilities[f.class]
	return ok && float64(p) < f.value
}

type ProbGtFilter struct {
	class string
	value float64
}

func (f *ProbGtFilter) Matches(pred api.Prediction) bool {
	p, ok := pred.Probabilities[f.class]
	return ok && float64(p) > f.value
}

type ClassEqFilter struct {
	value string
}

func (f *ClassEqFilter) Matches(pred api.Prediction) bool {
	return pred.TopClass == f.value
}

type ClassContainsFilter struct {
	substr string
}

func (f *ClassContainsFilter) Matches(pred api.Prediction) bool {
	return strings.Contains(pred.TopClass, f.substr)
}
