package detector

import (
	"emotion-detector/pkg/inference"
	"emotion-detector/pkg/model"
)

type loaderProvider struct {
	loader *model.Loader
}

// FromLoader exposes the loader's model as the detector's classifier.
func FromLoader(loader *model.Loader) ClassifierProvider {
	return loaderProvider{loader: loader}
}

func (p loaderProvider) Classifier() (inference.Classifier, error) {
	m, err := p.loader.Model()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// StaticProvider always returns the same classifier.
type StaticProvider struct {
	C inference.Classifier
}

// Classifier implements ClassifierProvider
func (p StaticProvider) Classifier() (inference.Classifier, error) {
	return p.C, nil
}
