package params

import (
	"github.com/aegisshield/ml-workbench/internal/models"
)

func integer(name string, def any) ParamSpec { return ParamSpec{Name: name, Kind: KindInt, Default: def} }
func number(name string, def any) ParamSpec  { return ParamSpec{Name: name, Kind: KindFloat, Default: def} }
func flag(name string, def bool) ParamSpec   { return ParamSpec{Name: name, Kind: KindBool, Default: def} }

func text(name, def string, choices ...string) ParamSpec {
	return ParamSpec{Name: name, Kind: KindString, Default: def, Choices: choices}
}

func (p ParamSpec) atLeast(v float64) ParamSpec { p.Min = &v; return p }
func (p ParamSpec) atMost(v float64) ParamSpec  { p.Max = &v; return p }
func (p ParamSpec) orNull() ParamSpec           { p.Nullable = true; return p }

func (p ParamSpec) above(v float64) ParamSpec {
	p.Min = &v
	p.MinExclusive = true
	return p
}

func (p ParamSpec) uniform(lo, hi float64) ParamSpec {
	p.Search = &Distribution{Type: Uniform, Low: lo, High: hi}
	return p
}

func (p ParamSpec) quniform(lo, hi, q float64) ParamSpec {
	p.Search = &Distribution{Type: QUniform, Low: lo, High: hi, Q: q}
	return p
}

func (p ParamSpec) loguniform(lo, hi float64) ParamSpec {
	p.Search = &Distribution{Type: LogUniform, Low: lo, High: hi}
	return p
}

func (p ParamSpec) oneOf(options ...any) ParamSpec {
	p.Search = &Distribution{Type: Choice, Options: options}
	return p
}

// searchChoices searches over every allowed string value
func (p ParamSpec) searchChoices() ParamSpec {
	options := make([]any, len(p.Choices))
	for i, c := range p.Choices {
		options[i] = c
	}
	return p.oneOf(options...)
}

var randomState = integer("random_state", 42)

func treeParams(criterion string, criteria ...string) Schema {
	return Schema{
		text("criterion", criterion, criteria...).searchChoices(),
		integer("max_depth", nil).orNull().atLeast(1).oneOf(nil, 3, 5, 8, 12),
		integer("min_samples_split", 2).atLeast(2).quniform(2, 20, 1),
		integer("min_samples_leaf", 1).atLeast(1).quniform(1, 10, 1),
	}
}

func forestParams(criterion string, criteria []string, maxFeatures string, bootstrap bool) Schema {
	s := Schema{integer("n_estimators", 100).atLeast(1).quniform(10, 150, 10)}
	s = append(s, treeParams(criterion, criteria...)...)
	return append(s,
		text("max_features", maxFeatures, "sqrt", "log2", "all").searchChoices(),
		number("max_features_fraction", 1.0).above(0).atMost(1),
		flag("bootstrap", bootstrap),
		number("max_samples", 1.0).above(0).atMost(1),
		randomState,
	)
}

func baggingParams() Schema {
	return Schema{
		integer("n_estimators", 10).atLeast(1).quniform(5, 100, 5),
		number("max_features", 1.0).above(0).atMost(1).uniform(0.3, 1),
		number("max_samples", 1.0).above(0).atMost(1).uniform(0.3, 1),
		flag("bootstrap", true),
		randomState,
	}
}

func gradientBoostingParams() Schema {
	return Schema{
		integer("n_estimators", 100).atLeast(1).quniform(20, 200, 10),
		number("learning_rate", 0.1).above(0).loguniform(0.01, 0.5),
		integer("max_depth", 3).atLeast(1).quniform(1, 8, 1),
		integer("min_samples_split", 2).atLeast(2),
		integer("min_samples_leaf", 1).atLeast(1).quniform(1, 10, 1),
		number("subsample", 1.0).above(0).atMost(1).uniform(0.5, 1),
		randomState,
	}
}

func xgbParams() Schema {
	return Schema{
		integer("n_estimators", 100).atLeast(1).quniform(20, 200, 10),
		number("learning_rate", 0.3).above(0).loguniform(0.01, 0.5),
		integer("max_depth", 6).atLeast(1).quniform(2, 10, 1),
		integer("min_child_weight", 1).atLeast(1).quniform(1, 10, 1),
		number("subsample", 1.0).above(0).atMost(1).uniform(0.5, 1),
		number("reg_lambda", 1.0).atLeast(0).loguniform(1e-3, 10),
		randomState,
	}
}

func lgbmParams() Schema {
	return Schema{
		integer("n_estimators", 100).atLeast(1).quniform(20, 200, 10),
		number("learning_rate", 0.1).above(0).loguniform(0.01, 0.5),
		integer("num_leaves", 31).atLeast(2).quniform(4, 64, 4),
		integer("max_depth", -1).atLeast(-1),
		integer("min_child_samples", 20).atLeast(1).quniform(5, 50, 5),
		number("subsample", 1.0).above(0).atMost(1).uniform(0.5, 1),
		number("reg_lambda", 0.0).atLeast(0),
		randomState,
	}
}

func catboostParams() Schema {
	return Schema{
		integer("iterations", 1000).atLeast(1).quniform(50, 300, 50),
		number("learning_rate", 0.03).above(0).loguniform(0.01, 0.3),
		integer("depth", 6).atLeast(1).atMost(16).quniform(2, 10, 1),
		number("l2_leaf_reg", 3.0).atLeast(0).loguniform(1, 10),
		number("subsample", 1.0).above(0).atMost(1),
		integer("random_seed", 42),
	}
}

func sgdParams(loss string, losses []string, learningRate string) Schema {
	return Schema{
		text("loss", loss, losses...).searchChoices(),
		text("penalty", "l2", "l2", "l1", "elasticnet", "none").searchChoices(),
		number("alpha", 1e-4).above(0).loguniform(1e-6, 1e-1),
		number("l1_ratio", 0.15).atLeast(0).atMost(1).uniform(0, 1),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-3).above(0),
		number("epsilon", 0.1).atLeast(0),
		text("learning_rate", learningRate, "optimal", "constant", "invscaling"),
		number("eta0", 0.01).above(0),
		number("power_t", 0.25),
		randomState,
	}
}

func linearSVMParams(loss string, losses []string, epsilon float64) Schema {
	return Schema{
		text("loss", loss, losses...).searchChoices(),
		text("penalty", "l2", "l2", "l1"),
		number("C", 1.0).above(0).loguniform(1e-3, 100),
		number("epsilon", epsilon).atLeast(0),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-4).above(0),
		randomState,
	}
}

func passiveAggressiveParams(loss string, losses []string) Schema {
	return Schema{
		text("loss", loss, losses...).searchChoices(),
		number("C", 1.0).above(0).loguniform(1e-3, 10),
		number("epsilon", 0.1).atLeast(0),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-3).above(0),
		randomState,
	}
}

func kernelParams() Schema {
	return Schema{
		text("kernel", "rbf", "rbf", "linear", "poly", "sigmoid").searchChoices(),
		integer("degree", 3).atLeast(1).quniform(2, 5, 1),
		{Name: "gamma", Kind: KindFloatOrString, Default: "scale", Choices: []string{"scale", "auto"}, Min: ptr(0), MinExclusive: true,
			Search: &Distribution{Type: Choice, Options: []any{"scale", "auto", 0.01, 0.1, 1.0}}},
		number("coef0", 0.0),
	}
}

func svmParams(extra ...ParamSpec) Schema {
	s := Schema{number("C", 1.0).above(0).loguniform(1e-3, 100)}
	s = append(s, extra...)
	s = append(s, kernelParams()...)
	return append(s, integer("max_iter", -1).atLeast(-1), randomState)
}

func neighborParams(first ParamSpec) Schema {
	return Schema{
		first,
		text("weights", "uniform", "uniform", "distance").searchChoices(),
		text("metric", "minkowski", "minkowski", "euclidean", "manhattan", "chebyshev").searchChoices(),
		number("p", 2.0).above(0),
	}
}

func mlpParams() Schema {
	return Schema{
		{Name: "hidden_layer_sizes", Kind: KindInts, Default: []any{100},
			Search: &Distribution{Type: Choice, Options: []any{[]any{50}, []any{100}, []any{50, 50}, []any{100, 50}}}},
		text("activation", "relu", "relu", "tanh", "logistic", "identity").searchChoices(),
		number("alpha", 1e-4).atLeast(0).loguniform(1e-6, 1e-1),
		number("learning_rate_init", 1e-3).above(0).loguniform(1e-4, 1e-1),
		integer("max_iter", 200).atLeast(1),
		integer("batch_size", 200).atLeast(1),
		number("tol", 1e-4).above(0),
		randomState,
	}
}

var (
	classificationLosses = []string{"hinge", "log_loss", "modified_huber", "squared_hinge", "perceptron"}
	regressionLosses     = []string{"squared_error", "huber", "epsilon_insensitive", "squared_epsilon_insensitive"}
	svrLosses            = []string{"epsilon_insensitive", "squared_epsilon_insensitive"}
)

var classificationSchemas = map[string]Schema{
	"decision_tree_classifier":     append(treeParams("gini", "gini", "entropy", "log_loss"), randomState),
	"random_forest_classifier":     forestParams("gini", []string{"gini", "entropy", "log_loss"}, "sqrt", true),
	"extra_trees_classifier":       forestParams("gini", []string{"gini", "entropy", "log_loss"}, "sqrt", false),
	"gradient_boosting_classifier": gradientBoostingParams(),
	"adaboost_classifier": {
		integer("n_estimators", 50).atLeast(1).quniform(10, 200, 10),
		number("learning_rate", 1.0).above(0).loguniform(0.01, 2),
		randomState,
	},
	"bagging_classifier":  baggingParams(),
	"xgb_classifier":      xgbParams(),
	"lgbm_classifier":     lgbmParams(),
	"catboost_classifier": catboostParams(),
	"sgd_classifier":      sgdParams("hinge", classificationLosses, "optimal"),
	"linear_svc":          linearSVMParams("squared_hinge", []string{"hinge", "squared_hinge"}, 0),
	"svc":                 svmParams(),
	"logistic_regression": {
		number("C", 1.0).above(0).loguniform(1e-3, 100),
		integer("max_iter", 100).atLeast(1),
		flag("fit_intercept", true),
	},
	"passive_aggressive_classifier": passiveAggressiveParams("hinge", []string{"hinge", "squared_hinge"}),
	"k_neighbors_classifier":        neighborParams(integer("n_neighbors", 5).atLeast(1).quniform(1, 30, 1)),
	"radius_neighbors_classifier":   neighborParams(number("radius", 1.0).above(0).uniform(0.5, 5)),
	"mlp_classifier":                mlpParams(),
}

var regressionSchemas = map[string]Schema{
	"decision_tree_regressor":     append(treeParams("squared_error", "squared_error", "friedman_mse"), randomState),
	"random_forest_regressor":     forestParams("squared_error", []string{"squared_error", "friedman_mse"}, "all", true),
	"extra_trees_regressor":       forestParams("squared_error", []string{"squared_error", "friedman_mse"}, "all", false),
	"gradient_boosting_regressor": gradientBoostingParams(),
	"adaboost_regressor": {
		integer("n_estimators", 50).atLeast(1).quniform(10, 200, 10),
		number("learning_rate", 1.0).above(0).loguniform(0.01, 2),
		text("loss", "linear", "linear", "square", "exponential").searchChoices(),
		randomState,
	},
	"bagging_regressor":  baggingParams(),
	"xgb_regressor":      xgbParams(),
	"lgbm_regressor":     lgbmParams(),
	"catboost_regressor": catboostParams(),
	"sgd_regressor":      sgdParams("squared_error", regressionLosses, "invscaling"),
	"linear_svr":         linearSVMParams("epsilon_insensitive", svrLosses, 0),
	"svr":                svmParams(number("epsilon", 0.1).atLeast(0).loguniform(1e-3, 1)),
	"linear_regression":  {flag("fit_intercept", true)},
	"ridge": {
		number("alpha", 1.0).atLeast(0).loguniform(1e-3, 100),
		flag("fit_intercept", true),
	},
	"lasso": {
		number("alpha", 1.0).above(0).loguniform(1e-4, 10),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-4).above(0),
		flag("fit_intercept", true),
	},
	"elastic_net": {
		number("alpha", 1.0).above(0).loguniform(1e-4, 10),
		number("l1_ratio", 0.5).atLeast(0).atMost(1).uniform(0, 1),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-4).above(0),
		flag("fit_intercept", true),
	},
	"passive_aggressive_regressor": passiveAggressiveParams("epsilon_insensitive", svrLosses),
	"k_neighbors_regressor":        neighborParams(integer("n_neighbors", 5).atLeast(1).quniform(1, 30, 1)),
	"radius_neighbors_regressor":   neighborParams(number("radius", 1.0).above(0).uniform(0.5, 5)),
	"mlp_regressor":                mlpParams(),
}

var clusteringSchemas = map[string]Schema{
	"kmeans": {
		integer("n_clusters", 8).atLeast(1).quniform(2, 12, 1),
		integer("n_init", 10).atLeast(1),
		integer("max_iter", 300).atLeast(1),
		number("tol", 1e-4).above(0),
		randomState,
	},
	"mini_batch_kmeans": {
		integer("n_clusters", 8).atLeast(1).quniform(2, 12, 1),
		integer("batch_size", 1024).atLeast(1).oneOf(256, 512, 1024),
		integer("max_iter", 100).atLeast(1),
		randomState,
	},
	"affinity_propagation": {
		number("damping", 0.5).atLeast(0.5).atMost(0.99).uniform(0.5, 0.95),
		integer("max_iter", 200).atLeast(1),
		integer("convergence_iter", 15).atLeast(1),
		number("preference", nil).orNull(),
	},
	"mean_shift": {
		number("bandwidth", 0.0).atLeast(0),
		integer("max_iter", 300).atLeast(1),
	},
	"spectral_clustering": {
		integer("n_clusters", 8).atLeast(1).quniform(2, 12, 1),
		number("gamma", 1.0).above(0).loguniform(1e-2, 10),
		integer("n_init", 10).atLeast(1),
		randomState,
	},
	"agglomerative_clustering": {
		integer("n_clusters", 2).atLeast(1).quniform(2, 12, 1),
		text("linkage", "ward", "ward", "complete", "average", "single").searchChoices(),
	},
	"dbscan": {
		number("eps", 0.5).above(0).loguniform(0.05, 5),
		integer("min_samples", 5).atLeast(1).quniform(2, 20, 1),
	},
	"optics": {
		integer("min_samples", 5).atLeast(2).quniform(2, 20, 1),
		number("max_eps", 0.0).atLeast(0),
		number("eps", 0.0).atLeast(0),
	},
	"birch": {
		number("threshold", 0.5).above(0).loguniform(0.05, 5),
		integer("n_clusters", 3).atLeast(0).quniform(2, 12, 1),
	},
	"gaussian_mixture": {
		integer("n_components", 1).atLeast(1).quniform(1, 12, 1),
		integer("max_iter", 100).atLeast(1),
		number("tol", 1e-3).above(0),
		number("reg_covar", 1e-6).atLeast(0),
		randomState,
	},
}

var outlierSchemas = map[string]Schema{
	"one_class_svm": append(Schema{number("nu", 0.5).above(0).atMost(1)}, kernelParams()...),
	"sgd_one_class_svm": {
		number("nu", 0.5).above(0).atMost(1),
		integer("max_iter", 1000).atLeast(1),
		number("tol", 1e-3).above(0),
		text("learning_rate", "optimal", "optimal", "constant", "invscaling"),
		number("eta0", 0.01).above(0),
		randomState,
	},
	"elliptic_envelope": {
		number("contamination", 0.1).above(0).atMost(0.5),
		number("support_fraction", 0.0).atLeast(0).atMost(1),
		randomState,
	},
	"local_outlier_factor": {
		integer("n_neighbors", 20).atLeast(1),
		text("metric", "minkowski", "minkowski", "euclidean", "manhattan", "chebyshev"),
		number("p", 2.0).above(0),
		number("contamination", 0.0).atLeast(0).atMost(0.5),
	},
	"isolation_forest": {
		integer("n_estimators", 100).atLeast(1),
		integer("max_samples", 0).atLeast(0),
		number("contamination", 0.0).atLeast(0).atMost(0.5),
		randomState,
	},
}

var reductionSchemas = map[string]Schema{
	"pca":           {integer("n_components", nil).orNull().atLeast(1)},
	"truncated_svd": {integer("n_components", 2).atLeast(1)},
	"lda":           {integer("n_components", nil).orNull().atLeast(1)},
	"nmf": {
		integer("n_components", nil).orNull().atLeast(1),
		integer("max_iter", 200).atLeast(1),
		number("tol", 1e-4).above(0),
		randomState,
	},
	"isomap": {
		integer("n_neighbors", 5).atLeast(1),
		integer("n_components", 2).atLeast(1),
	},
	"tsne": {
		integer("n_components", 2).atLeast(1).atMost(3),
		number("perplexity", 30.0).above(0),
		number("learning_rate", nil).orNull().above(0),
		integer("max_iter", 1000).atLeast(250),
		randomState,
	},
}

// finalEstimatorSchemas cover meta-estimators offered only inside stacking
var finalEstimatorSchemas = map[string]Schema{
	"ridge_cv": {
		{Name: "alphas", Kind: KindFloats, Default: []any{0.1, 1.0, 10.0}},
		integer("cv", 5).atLeast(2),
	},
}

var schemas = map[models.TaskType]map[string]Schema{
	models.TaskClassification:          classificationSchemas,
	models.TaskRegression:              regressionSchemas,
	models.TaskClustering:              clusteringSchemas,
	models.TaskOutlierDetection:        outlierSchemas,
	models.TaskDimensionalityReduction: reductionSchemas,
}

func ptr(v float64) *float64 { return &v }
