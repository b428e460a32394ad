// Package config builds pipelines from YAML configuration files and the
// modules that provide their code.
//
// A Module registers pipeline definitions, step factories and materializers
// under names. A configuration names the pipeline, and for each step slot the
// step source, its parameters and materializers, and optional retry and
// timeout modifiers:
//
//	name: mnist_pipeline
//	steps:
//	  importer:
//	    source: importer
//	    materializers: json
//	    retry: exponential
//	    initial: 5s
//	    max_attempts: 5
//	  trainer:
//	    source: trainer
//	    parameters:
//	      epochs: 3
//	    timeout: 60s
//	    materializers:
//	      model: json
//
// Build an instance with BuildPipeline(module, config, opts). Set
// BuildOptions.RetryPersist when any step has retry (e.g. from
// observer.ParkedRunStore.PersistFunc()).
package config
