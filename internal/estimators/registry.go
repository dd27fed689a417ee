package estimators

import (
	"encoding/gob"
	"math"
)

var classifiers = map[string]Builder{
	"decision_tree_classifier": func(p Params) any {
		return &DecisionTreeClassifier{Config: treeConfigFrom(p, "gini"), Seed: p.Int("random_state", 42)}
	},
	"random_forest_classifier": newRandomForestClassifier,
	"extra_trees_classifier":   newExtraTreesClassifier,
	"gradient_boosting_classifier": func(p Params) any {
		return &GradientBoostingClassifier{GradientBoosting: gradientBoostingFrom(p)}
	},
	"adaboost_classifier": func(p Params) any {
		return &AdaBoostClassifier{
			NEstimators:  max(1, p.Int("n_estimators", 50)),
			LearningRate: p.Float("learning_rate", 1),
			Seed:         p.Int("random_state", 42),
		}
	},
	"bagging_classifier":  newBaggingClassifier,
	"xgb_classifier":      func(p Params) any { return &GradientBoostingClassifier{GradientBoosting: xgbFrom(p)} },
	"lgbm_classifier":     func(p Params) any { return &GradientBoostingClassifier{GradientBoosting: lgbmFrom(p)} },
	"catboost_classifier": func(p Params) any { return &GradientBoostingClassifier{GradientBoosting: catboostFrom(p)} },
	"sgd_classifier":      newSGDClassifier,
	"linear_svc":          newLinearSVC,
	"svc": func(p Params) any {
		return &SVC{
			C:             p.Float("C", 1),
			MaxIter:       p.Int("max_iter", -1),
			Seed:          p.Int("random_state", 42),
			KernelMachine: KernelMachine{Kernel: kernelFrom(p)},
		}
	},
	"logistic_regression": func(p Params) any {
		return &LogisticRegression{
			C:            p.Float("C", 1),
			MaxIter:      max(1, p.Int("max_iter", 100)),
			FitIntercept: p.Bool("fit_intercept", true),
		}
	},
	"passive_aggressive_classifier": newPassiveAggressiveClassifier,
	"k_neighbors_classifier":        newKNeighborsClassifier,
	"radius_neighbors_classifier":   newRadiusNeighborsClassifier,
	"mlp_classifier":                newMLPClassifier,
}

var regressors = map[string]Builder{
	"decision_tree_regressor": func(p Params) any {
		return &DecisionTreeRegressor{Config: treeConfigFrom(p, "squared_error"), Seed: p.Int("random_state", 42)}
	},
	"random_forest_regressor": newRandomForestRegressor,
	"extra_trees_regressor":   newExtraTreesRegressor,
	"gradient_boosting_regressor": func(p Params) any {
		return &GradientBoostingRegressor{GradientBoosting: gradientBoostingFrom(p)}
	},
	"adaboost_regressor": func(p Params) any {
		return &AdaBoostRegressor{
			NEstimators:  max(1, p.Int("n_estimators", 50)),
			LearningRate: p.Float("learning_rate", 1),
			Loss:         p.String("loss", "linear"),
			Seed:         p.Int("random_state", 42),
		}
	},
	"bagging_regressor":  newBaggingRegressor,
	"xgb_regressor":      func(p Params) any { return &GradientBoostingRegressor{GradientBoosting: xgbFrom(p)} },
	"lgbm_regressor":     func(p Params) any { return &GradientBoostingRegressor{GradientBoosting: lgbmFrom(p)} },
	"catboost_regressor": func(p Params) any { return &GradientBoostingRegressor{GradientBoosting: catboostFrom(p)} },
	"sgd_regressor":      newSGDRegressor,
	"linear_svr":         newLinearSVR,
	"svr": func(p Params) any {
		return &SVR{
			C:             p.Float("C", 1),
			Epsilon:       p.Float("epsilon", 0.1),
			MaxIter:       p.Int("max_iter", -1),
			Seed:          p.Int("random_state", 42),
			KernelMachine: KernelMachine{Kernel: kernelFrom(p)},
		}
	},
	"linear_regression": func(p Params) any {
		return &LinearRegression{FitIntercept: p.Bool("fit_intercept", true)}
	},
	"ridge": func(p Params) any {
		return &Ridge{Alpha: p.Float("alpha", 1), FitIntercept: p.Bool("fit_intercept", true)}
	},
	"lasso": func(p Params) any {
		return &ElasticNet{
			Alpha:        p.Float("alpha", 1),
			L1Ratio:      1,
			MaxIter:      max(1, p.Int("max_iter", 1000)),
			Tol:          p.Float("tol", 1e-4),
			FitIntercept: p.Bool("fit_intercept", true),
		}
	},
	"elastic_net": func(p Params) any {
		return &ElasticNet{
			Alpha:        p.Float("alpha", 1),
			L1Ratio:      p.Float("l1_ratio", 0.5),
			MaxIter:      max(1, p.Int("max_iter", 1000)),
			Tol:          p.Float("tol", 1e-4),
			FitIntercept: p.Bool("fit_intercept", true),
		}
	},
	"ridge_cv": func(p Params) any {
		return &RidgeCV{Alphas: p.Floats("alphas", []float64{0.1, 1, 10}), Folds: p.Int("cv", 5)}
	},
	"passive_aggressive_regressor": newPassiveAggressiveRegressor,
	"k_neighbors_regressor":        newKNeighborsRegressor,
	"radius_neighbors_regressor":   newRadiusNeighborsRegressor,
	"mlp_regressor":                newMLPRegressor,
}

// stackingOnly are regressors that exist as stacking meta-estimators but are not
// offered as standalone models
var stackingOnly = map[string]bool{"ridge_cv": true}

var clusterers = map[string]Builder{
	"kmeans": func(p Params) any {
		return &KMeans{
			NClusters: max(1, p.Int("n_clusters", 8)),
			NInit:     max(1, p.Int("n_init", 10)),
			MaxIter:   max(1, p.Int("max_iter", 300)),
			Tol:       p.Float("tol", 1e-4),
			Seed:      p.Int("random_state", 42),
		}
	},
	"mini_batch_kmeans": func(p Params) any {
		return &MiniBatchKMeans{
			NClusters: max(1, p.Int("n_clusters", 8)),
			BatchSize: p.Int("batch_size", 1024),
			MaxIter:   max(1, p.Int("max_iter", 100)),
			Seed:      p.Int("random_state", 42),
		}
	},
	"affinity_propagation": func(p Params) any {
		m := &AffinityPropagation{
			Damping:         math.Min(math.Max(p.Float("damping", 0.5), 0.5), 0.99),
			MaxIter:         max(1, p.Int("max_iter", 200)),
			ConvergenceIter: max(1, p.Int("convergence_iter", 15)),
		}
		if _, ok := p["preference"].(float64); ok {
			v := p.Float("preference", 0)
			m.Preference = &v
		}
		return m
	},
	"mean_shift": func(p Params) any {
		return &MeanShift{Bandwidth: p.Float("bandwidth", 0), MaxIter: max(1, p.Int("max_iter", 300)), Seed: 42}
	},
	"spectral_clustering": func(p Params) any {
		return &SpectralClustering{
			NClusters: max(1, p.Int("n_clusters", 8)),
			Gamma:     p.Float("gamma", 1),
			NInit:     max(1, p.Int("n_init", 10)),
			Seed:      p.Int("random_state", 42),
		}
	},
	"agglomerative_clustering": func(p Params) any {
		return &AgglomerativeClustering{NClusters: max(1, p.Int("n_clusters", 2)), Linkage: p.String("linkage", "ward")}
	},
	"dbscan": func(p Params) any {
		return &DBSCAN{Eps: p.Float("eps", 0.5), MinSamples: max(1, p.Int("min_samples", 5))}
	},
	"optics": func(p Params) any {
		return &OPTICS{
			MinSamples: max(2, p.Int("min_samples", 5)),
			MaxEps:     p.Float("max_eps", 0),
			Eps:        p.Float("eps", 0),
		}
	},
	"birch": func(p Params) any {
		return &Birch{Threshold: p.Float("threshold", 0.5), NClusters: p.Int("n_clusters", 3)}
	},
	"gaussian_mixture": func(p Params) any {
		return &GaussianMixture{
			NComponents: max(1, p.Int("n_components", 1)),
			MaxIter:     max(1, p.Int("max_iter", 100)),
			Tol:         p.Float("tol", 1e-3),
			RegCovar:    p.Float("reg_covar", 1e-6),
			Seed:        p.Int("random_state", 42),
		}
	},
}

var outlierDetectors = map[string]Builder{
	"one_class_svm": func(p Params) any {
		return &OneClassSVM{Nu: p.Float("nu", 0.5), Kernel: kernelFrom(p)}
	},
	"sgd_one_class_svm": func(p Params) any {
		cfg := sgdConfigFrom(p, "hinge")
		return &SGDOneClassSVM{Nu: p.Float("nu", 0.5), Config: cfg}
	},
	"elliptic_envelope": func(p Params) any {
		return &EllipticEnvelope{
			Contamination:   p.Float("contamination", 0.1),
			SupportFraction: p.Float("support_fraction", 0),
			Seed:            p.Int("random_state", 42),
		}
	},
	"local_outlier_factor": newLocalOutlierFactor,
	"isolation_forest": func(p Params) any {
		return &IsolationForest{
			NEstimators:   max(1, p.Int("n_estimators", 100)),
			MaxSamples:    p.Int("max_samples", 0),
			Contamination: p.Float("contamination", 0),
			Seed:          p.Int("random_state", 42),
		}
	},
}

var reducers = map[string]Builder{
	"pca":           func(p Params) any { return &PCA{NComponents: p.OptionalInt("n_components")} },
	"truncated_svd": func(p Params) any { return &TruncatedSVD{NComponents: p.Int("n_components", 2)} },
	"lda": func(p Params) any {
		return &LinearDiscriminantAnalysis{NComponents: p.OptionalInt("n_components")}
	},
	"nmf": func(p Params) any {
		return &NMF{
			NComponents: p.OptionalInt("n_components"),
			MaxIter:     max(1, p.Int("max_iter", 200)),
			Tol:         p.Float("tol", 1e-4),
			Seed:        p.Int("random_state", 42),
		}
	},
	"isomap": func(p Params) any {
		return &Isomap{NNeighbors: max(1, p.Int("n_neighbors", 5)), NComponents: p.Int("n_components", 2)}
	},
	"tsne": func(p Params) any {
		lr := 0.0
		if v, ok := p["learning_rate"].(float64); ok {
			lr = v
		}
		return &TSNE{
			NComponents:  p.Int("n_components", 2),
			Perplexity:   p.Float("perplexity", 30),
			LearningRate: lr,
			MaxIter:      p.Int("max_iter", 1000),
			Seed:         p.Int("random_state", 42),
		}
	},
}

func init() {
	for _, m := range []any{
		&DecisionTreeClassifier{}, &DecisionTreeRegressor{},
		&ForestClassifier{}, &ForestRegressor{},
		&GradientBoostingClassifier{}, &GradientBoostingRegressor{},
		&AdaBoostClassifier{}, &AdaBoostRegressor{},
		&LinearRegression{}, &Ridge{}, &RidgeCV{}, &ElasticNet{}, &LogisticRegression{},
		&SGDClassifier{}, &SGDRegressor{},
		&SVC{}, &SVR{}, &OneClassSVM{},
		&KNeighborsClassifier{}, &KNeighborsRegressor{}, &LocalOutlierFactor{},
		&MLPClassifier{}, &MLPRegressor{},
		&KMeans{}, &MiniBatchKMeans{}, &AffinityPropagation{}, &MeanShift{}, &SpectralClustering{},
		&AgglomerativeClustering{}, &DBSCAN{}, &OPTICS{}, &Birch{}, &GaussianMixture{},
		&EllipticEnvelope{}, &IsolationForest{}, &SGDOneClassSVM{},
		&PCA{}, &TruncatedSVD{}, &LinearDiscriminantAnalysis{}, &NMF{}, &Isomap{}, &TSNE{},
		&VotingClassifier{}, &VotingRegressor{}, &StackingClassifier{}, &StackingRegressor{},
	} {
		gob.Register(m)
	}
}
