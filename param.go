// Copyright ©2017 The gonum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package quda

import (
	"fmt"
	"os"
	"reflect"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kostrzewa/quda/field"
)

// MaxMultiShift is the largest number of shifts a multi-shift solve takes.
const MaxMultiShift = 32

// Param configures a solve and receives its statistics.
//
// The caller fills in the inputs before a solve and reads the results
// afterwards. Statistics (Iter, Secs, Gflops) are added to, never
// overwritten, so a record threaded through several solves holds their
// sum. Fields that do not concern the selected solver are ignored.
type Param struct {
	// InvType is the solver kind.
	InvType InverterType `yaml:"inv_type" validate:"enum"`

	// InvTypePrecondition is the solver used as a preconditioner.
	// NoInverter disables preconditioning.
	InvTypePrecondition InverterType `yaml:"inv_type_precondition" validate:"enum"`

	// ResidualType is the set of residual norms checked for convergence.
	ResidualType ResidualType `yaml:"residual_type" validate:"enum"`

	// UseInitGuess tells whether x holds an initial guess on entry.
	// Otherwise the solve starts from zero.
	UseInitGuess bool `yaml:"use_init_guess"`

	// Delta is the reliable update tolerance: the true residual is
	// recomputed when the iterated residual has dropped by this factor.
	Delta float64 `yaml:"delta" validate:"gte=0,lte=1"`

	// UseSloppyPartialAccumulator keeps the partial solution accumulated
	// between reliable updates in sloppy precision.
	UseSloppyPartialAccumulator bool `yaml:"use_sloppy_partial_accumulator"`

	// MaxResIncrease is the number of consecutive reliable updates with
	// an increased true residual tolerated before the solve stops.
	MaxResIncrease int `yaml:"max_res_increase" validate:"gte=0"`

	// MaxResIncreaseTotal is the total number of reliable updates with
	// an increased true residual tolerated before the solve stops.
	MaxResIncreaseTotal int `yaml:"max_res_increase_total" validate:"gte=0"`

	// HeavyQuarkCheck is the number of iterations between updates of the
	// heavy-quark residual.
	HeavyQuarkCheck int `yaml:"heavy_quark_check" validate:"gte=1"`

	// Tol is the tolerance in the L2 residual norm.
	Tol float64 `yaml:"tol" validate:"gte=0"`

	// TolRestart is the intermediate tolerance of the restarts of initCG
	// between the first cycle, run to IncTol, and the final one, run to
	// Tol. It is ignored unless it lies above Tol.
	TolRestart float64 `yaml:"tol_restart" validate:"gte=0"`

	// TolHQ is the tolerance in the heavy-quark residual norm.
	TolHQ float64 `yaml:"tol_hq" validate:"gte=0"`

	// ComputeTrueRes tells whether the true residual is computed after
	// the solve.
	ComputeTrueRes bool `yaml:"compute_true_res"`

	// SloppyConverge declares convergence on the iterated residual
	// without checking the true residual.
	SloppyConverge bool `yaml:"sloppy_converge"`

	// TrueRes is the L2 relative residual achieved.
	TrueRes float64 `yaml:"-"`

	// TrueResHQ is the heavy-quark residual achieved.
	TrueResHQ float64 `yaml:"-"`

	// MaxIter is the limit on the number of iterations.
	MaxIter int `yaml:"max_iter" validate:"gte=0"`

	// Iter is the number of iterations performed.
	Iter int `yaml:"-"`

	// Precision is the precision of the solution and the source.
	Precision field.Precision `yaml:"precision" validate:"enum"`

	// PrecisionSloppy is the precision of the bulk of the iteration.
	PrecisionSloppy field.Precision `yaml:"precision_sloppy" validate:"enum"`

	// PrecisionRefinementSloppy is the sloppy precision of the
	// refinement of multi-shift solutions. It is reserved: MultiShiftCG
	// does not refine its solutions.
	PrecisionRefinementSloppy field.Precision `yaml:"precision_refinement_sloppy" validate:"enum"`

	// PrecisionPrecondition is the precision of the preconditioner.
	PrecisionPrecondition field.Precision `yaml:"precision_precondition" validate:"enum"`

	// PreserveSource tells whether the source must be left intact. When
	// false, solvers that support it use the source as work space.
	PreserveSource bool `yaml:"preserve_source"`

	// ReturnResidual tells whether the source holds the final residual
	// on return.
	ReturnResidual bool `yaml:"return_residual"`

	// OverlapPrecondition is the halo width of overlapping domain
	// decomposition preconditioners.
	OverlapPrecondition int `yaml:"overlap_precondition" validate:"gte=0"`

	// Offset holds the shifts of a multi-shift solve.
	Offset []float64 `yaml:"offset" validate:"max=32"`

	// TolOffset holds the tolerance of each shift. A missing entry
	// defaults to Tol.
	TolOffset []float64 `yaml:"tol_offset" validate:"max=32,dive,gte=0"`

	// TolHQOffset holds the heavy-quark tolerance of each shift. A
	// missing entry defaults to TolHQ.
	TolHQOffset []float64 `yaml:"tol_hq_offset" validate:"max=32,dive,gte=0"`

	// TrueResOffset holds the true L2 relative residual of each shift.
	TrueResOffset []float64 `yaml:"-"`

	// IterResOffset holds the iterated L2 relative residual of each
	// shift.
	IterResOffset []float64 `yaml:"-"`

	// TrueResHQOffset holds the heavy-quark residual of each shift.
	TrueResHQOffset []float64 `yaml:"-"`

	// NKrylov is the size of the Krylov space of restarted solvers and
	// the polynomial degree L of BiCGstab(L).
	NKrylov int `yaml:"n_krylov" validate:"gte=0"`

	// PreconditionCycle is the number of preconditioner applications per
	// outer iteration.
	PreconditionCycle int `yaml:"precondition_cycle" validate:"gte=0"`

	// TolPrecondition is the tolerance of the preconditioner.
	TolPrecondition float64 `yaml:"tol_precondition" validate:"gte=0"`

	// MaxIterPrecondition is the iteration limit of the preconditioner.
	MaxIterPrecondition int `yaml:"max_iter_precondition" validate:"gte=0"`

	// Omega is the relaxation parameter of MR and SD. Zero means one.
	Omega float64 `yaml:"omega" validate:"gte=0,lte=2"`

	// SchwarzType selects domain-decomposition preconditioning.
	SchwarzType SchwarzType `yaml:"schwarz_type" validate:"enum"`

	// Secs is the time spent in the solver.
	Secs float64 `yaml:"-"`

	// Gflops is the number of floating-point operations executed, in
	// units of 10⁹.
	Gflops float64 `yaml:"-"`

	// PrecisionRitz is the precision of the deflation vectors.
	PrecisionRitz field.Precision `yaml:"precision_ritz" validate:"enum"`

	// NEv is the number of eigenvectors kept per eigCG restart.
	NEv int `yaml:"n_ev" validate:"gte=0"`

	// M is the dimension of the eigCG search space.
	M int `yaml:"m" validate:"gte=0"`

	// DeflationGrid is the number of right-hand sides eigCG collects
	// eigenvectors from before switching to initCG.
	DeflationGrid int `yaml:"deflation_grid" validate:"gte=0"`

	// RhsIdx counts the right-hand sides solved by incremental eigCG.
	RhsIdx int `yaml:"-"`

	// EigCGMaxRestarts limits the number of eigCG search space restarts
	// per right-hand side.
	EigCGMaxRestarts int `yaml:"eigcg_max_restarts" validate:"gte=0"`

	// MaxRestartNum limits the number of initCG restarts.
	MaxRestartNum int `yaml:"max_restart_num" validate:"gte=0"`

	// IncTol is the tolerance of the first initCG cycle.
	IncTol float64 `yaml:"inc_tol" validate:"gte=0"`

	// EigenvalTol is the relative accuracy of a Ritz value accepted into
	// the deflation space.
	EigenvalTol float64 `yaml:"eigenval_tol" validate:"gte=0"`

	// Verbosity gates the diagnostics of this solver.
	Verbosity Verbosity `yaml:"verbosity" validate:"enum"`

	// VerbosityPrecondition gates the diagnostics of the
	// preconditioner.
	VerbosityPrecondition Verbosity `yaml:"verbosity_precondition" validate:"enum"`

	// IsPreconditioner tells whether the solver is the preconditioner of
	// another. Preconditioners skip statistics.
	IsPreconditioner bool `yaml:"-"`

	// GlobalReduction tells whether reductions are summed over all
	// nodes.
	GlobalReduction bool `yaml:"global_reduction"`
}

// DefaultParam returns a record for a double precision CG solve.
func DefaultParam() *Param {
	return &Param{
		InvType:                   CGInverter,
		InvTypePrecondition:       NoInverter,
		ResidualType:              L2Relative,
		Delta:                     0.1,
		MaxResIncrease:            1,
		MaxResIncreaseTotal:       10,
		HeavyQuarkCheck:           10,
		Tol:                       1e-8,
		TolRestart:                1e-6,
		TolHQ:                     1e-8,
		ComputeTrueRes:            true,
		MaxIter:                   1000,
		Precision:                 field.Double,
		PrecisionSloppy:           field.Double,
		PrecisionRefinementSloppy: field.Double,
		PrecisionPrecondition:     field.Double,
		PreserveSource:            true,
		NKrylov:                   10,
		PreconditionCycle:         1,
		TolPrecondition:           0.1,
		MaxIterPrecondition:       10,
		Omega:                     1,
		PrecisionRitz:             field.Double,
		NEv:                       8,
		M:                         32,
		DeflationGrid:             1,
		EigCGMaxRestarts:          4,
		MaxRestartNum:             3,
		IncTol:                    1e-2,
		EigenvalTol:               1e-1,
		GlobalReduction:           true,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("yaml")
	})
	err := v.RegisterValidation("enum", func(fl validator.FieldLevel) bool {
		e, ok := fl.Field().Interface().(interface{ IsValid() bool })
		return !ok || e.IsValid()
	})
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks p for values no solver accepts.
func (p *Param) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	if p.InvTypePrecondition == p.InvType && p.InvType != NoInverter {
		return fmt.Errorf("%w: %v preconditioned by itself", ErrInvalidParam, p.InvType)
	}
	return nil
}

// ParseParam decodes a YAML parameter record on top of DefaultParam and
// validates it.
func ParseParam(data []byte) (*Param, error) {
	p := DefaultParam()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParam, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadParam reads a YAML parameter file.
func LoadParam(path string) (*Param, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseParam(data)
}

// Copy returns a copy of p. The eigCG search space is rounded up to a
// multiple of 16, and RhsIdx is only carried over by incremental eigCG.
func (p *Param) Copy() *Param {
	q := *p
	q.Offset = append([]float64(nil), p.Offset...)
	q.TolOffset = append([]float64(nil), p.TolOffset...)
	q.TolHQOffset = append([]float64(nil), p.TolHQOffset...)
	q.TrueResOffset = append([]float64(nil), p.TrueResOffset...)
	q.IterResOffset = append([]float64(nil), p.IterResOffset...)
	q.TrueResHQOffset = append([]float64(nil), p.TrueResHQOffset...)
	if p.InvType == IncEigCGInverter && q.M%16 != 0 {
		q.M = (q.M/16 + 1) * 16
	}
	if p.InvType != IncEigCGInverter {
		q.RhsIdx = 0
	}
	return &q
}

// preconditioner returns the record of the solver preconditioning p.
func (p *Param) preconditioner() *Param {
	k := p.Copy()
	k.InvType = p.InvTypePrecondition
	k.InvTypePrecondition = NoInverter
	k.ResidualType = L2Relative
	k.Tol = p.TolPrecondition
	k.MaxIter = p.MaxIterPrecondition
	k.Delta = 1e-20
	k.Precision = p.PrecisionPrecondition
	k.PrecisionSloppy = p.PrecisionPrecondition
	k.Verbosity = p.VerbosityPrecondition
	k.UseInitGuess = false
	k.PreserveSource = true
	k.ReturnResidual = false
	k.ComputeTrueRes = false
	k.IsPreconditioner = true
	k.GlobalReduction = p.GlobalReduction && p.SchwarzType == SchwarzNone
	k.Iter, k.Secs, k.Gflops = 0, 0, 0
	return k
}

// Update adds the statistics of p to outer and copies the residuals.
func (p *Param) Update(outer *Param) {
	p.update(outer)
	outer.TrueResOffset = append(outer.TrueResOffset[:0], p.TrueResOffset...)
	outer.IterResOffset = append(outer.IterResOffset[:0], p.IterResOffset...)
	outer.TrueResHQOffset = append(outer.TrueResHQOffset[:0], p.TrueResHQOffset...)
}

// UpdateOffset is Update copying the residuals of shift i only.
func (p *Param) UpdateOffset(outer *Param, i int) {
	p.update(outer)
	grow := func(s []float64) []float64 {
		for len(s) <= i {
			s = append(s, 0)
		}
		return s
	}
	outer.TrueResOffset = grow(outer.TrueResOffset)
	outer.IterResOffset = grow(outer.IterResOffset)
	outer.TrueResHQOffset = grow(outer.TrueResHQOffset)
	outer.TrueResOffset[i] = at(p.TrueResOffset, i)
	outer.IterResOffset[i] = at(p.IterResOffset, i)
	outer.TrueResHQOffset[i] = at(p.TrueResHQOffset, i)
}

func (p *Param) update(outer *Param) {
	outer.TrueRes = p.TrueRes
	outer.TrueResHQ = p.TrueResHQ
	outer.Iter += p.Iter
	outer.Secs += p.Secs
	outer.Gflops += p.Gflops
	outer.RhsIdx = p.RhsIdx
}

func at(s []float64, i int) float64 {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// sloppy returns the sloppy precision, defaulting to Precision.
func (p *Param) sloppy() field.Precision {
	if p.PrecisionSloppy.IsValid() {
		return p.PrecisionSloppy
	}
	return p.Precision
}

func (p *Param) omega() float64 {
	if p.Omega == 0 {
		return 1
	}
	return p.Omega
}
