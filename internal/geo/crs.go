// Package geo projects coordinates between the coordinate reference systems
// used by rainfall and static grids, and builds region masks over a grid.
//
// Supported EPSG codes: geographic 4326, 4269, 4267, 4258; Web Mercator 3857;
// CONUS Albers equal area 5070; UTM north/south zones 326xx, 327xx, and
// NAD83 UTM 269xx.
package geo

import (
	"fmt"
	"math"
)

const deg = math.Pi / 180

// Common EPSG codes.
const (
	EPSGWGS84       = 4326
	EPSGNAD83       = 4269
	EPSGWebMercator = 3857
	EPSGConusAlbers = 5070
)

// Projection converts between geographic degrees and projected coordinates.
type Projection interface {
	// Forward maps lon/lat degrees to projected x/y.
	Forward(lon, lat float64) (x, y float64)
	// Inverse maps projected x/y to lon/lat degrees.
	Inverse(x, y float64) (lon, lat float64)
	Geographic() bool
}

type ellipsoid struct {
	a  float64 // semi-major axis, meters
	e2 float64 // first eccentricity squared
}

func newEllipsoid(a, invF float64) ellipsoid {
	f := 1 / invF
	return ellipsoid{a: a, e2: 2*f - f*f}
}

var (
	wgs84 = newEllipsoid(6378137, 298.257223563)
	grs80 = newEllipsoid(6378137, 298.257222101)
)

// Lookup returns the projection for an EPSG code.
func Lookup(epsg int) (Projection, error) {
	switch {
	case epsg == 4326 || epsg == 4269 || epsg == 4267 || epsg == 4258:
		return geographic{}, nil
	case epsg == EPSGWebMercator:
		return webMercator{}, nil
	case epsg == EPSGConusAlbers:
		return newAlbers(grs80, 29.5, 45.5, 23, -96, 0, 0), nil
	case epsg >= 32601 && epsg <= 32660:
		return newUTM(wgs84, epsg-32600, false), nil
	case epsg >= 32701 && epsg <= 32760:
		return newUTM(wgs84, epsg-32700, true), nil
	case epsg >= 26901 && epsg <= 26923:
		return newUTM(grs80, epsg-26900, false), nil
	default:
		return nil, fmt.Errorf("unsupported CRS EPSG:%d", epsg)
	}
}

// Supported reports whether Lookup accepts epsg.
func Supported(epsg int) bool {
	_, err := Lookup(epsg)
	return err == nil
}

// Equivalent reports whether two codes describe coordinates that need no
// transformation between them. WGS84 and NAD83 geographic coordinates differ
// by well under a grid cell and are treated as the same.
func Equivalent(a, b int) bool {
	if a == b {
		return true
	}
	pa, errA := Lookup(a)
	pb, errB := Lookup(b)
	return errA == nil && errB == nil && pa.Geographic() && pb.Geographic()
}

type geographic struct{}

func (geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) Inverse(x, y float64) (float64, float64)     { return x, y }
func (geographic) Geographic() bool                            { return true }

// webMercator is the spherical Pseudo-Mercator used by web maps.
type webMercator struct{}

const mercatorRadius = 6378137.0

func (webMercator) Forward(lon, lat float64) (float64, float64) {
	lat = math.Max(math.Min(lat, 85.06), -85.06)
	return mercatorRadius * lon * deg, mercatorRadius * math.Log(math.Tan(math.Pi/4+lat*deg/2))
}

func (webMercator) Inverse(x, y float64) (float64, float64) {
	lon := x / mercatorRadius / deg
	lat := (2*math.Atan(math.Exp(y/mercatorRadius)) - math.Pi/2) / deg
	return lon, lat
}

func (webMercator) Geographic() bool { return false }

// albers is the ellipsoidal Albers equal-area conic.
type albers struct {
	ell        ellipsoid
	e          float64
	lon0       float64 // radians
	n, c, rho0 float64
	fe, fn     float64
}

func newAlbers(ell ellipsoid, lat1, lat2, lat0, lon0, fe, fn float64) *albers {
	p := &albers{ell: ell, e: math.Sqrt(ell.e2), lon0: lon0 * deg, fe: fe, fn: fn}
	m1, m2 := p.m(lat1*deg), p.m(lat2*deg)
	q0, q1, q2 := p.q(lat0*deg), p.q(lat1*deg), p.q(lat2*deg)
	if lat1 == lat2 {
		p.n = math.Sin(lat1 * deg)
	} else {
		p.n = (m1*m1 - m2*m2) / (q2 - q1)
	}
	p.c = m1*m1 + p.n*q1
	p.rho0 = ell.a * math.Sqrt(p.c-p.n*q0) / p.n
	return p
}

func (p *albers) m(phi float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-p.ell.e2*s*s)
}

func (p *albers) q(phi float64) float64 {
	s := math.Sin(phi)
	e := p.e
	return (1 - p.ell.e2) * (s/(1-p.ell.e2*s*s) - 1/(2*e)*math.Log((1-e*s)/(1+e*s)))
}

func (p *albers) Forward(lon, lat float64) (float64, float64) {
	rho := p.ell.a * math.Sqrt(p.c-p.n*p.q(lat*deg)) / p.n
	theta := p.n * (lon*deg - p.lon0)
	return p.fe + rho*math.Sin(theta), p.fn + p.rho0 - rho*math.Cos(theta)
}

func (p *albers) Inverse(x, y float64) (float64, float64) {
	x -= p.fe
	y -= p.fn
	dy := p.rho0 - y
	rho := math.Hypot(x, dy)
	theta := math.Atan2(x, dy)
	if p.n < 0 {
		rho = -rho
		theta = math.Atan2(-x, -dy)
	}
	q := (p.c - rho*rho*p.n*p.n/(p.ell.a*p.ell.a)) / p.n

	e, e2 := p.e, p.ell.e2
	phi := math.Asin(q / 2)
	for range 15 {
		s := math.Sin(phi)
		cs := math.Cos(phi)
		one := 1 - e2*s*s
		d := one * one / (2 * cs) * (q/(1-e2) - s/one + 1/(2*e)*math.Log((1-e*s)/(1+e*s)))
		phi += d
		if math.Abs(d) < 1e-12 {
			break
		}
	}
	return (p.lon0 + theta/p.n) / deg, phi / deg
}

func (p *albers) Geographic() bool { return false }

// utm is transverse Mercator with UTM zone parameters.
type utm struct {
	ell   ellipsoid
	lon0  float64 // radians
	k0    float64
	fn    float64
	ep2   float64
	mCoef [4]float64
}

func newUTM(ell ellipsoid, zone int, south bool) *utm {
	e2 := ell.e2
	e4, e6 := e2*e2, e2*e2*e2
	p := &utm{
		ell:  ell,
		lon0: float64(zone*6-183) * deg,
		k0:   0.9996,
		ep2:  e2 / (1 - e2),
		mCoef: [4]float64{
			1 - e2/4 - 3*e4/64 - 5*e6/256,
			3*e2/8 + 3*e4/32 + 45*e6/1024,
			15*e4/256 + 45*e6/1024,
			35 * e6 / 3072,
		},
	}
	if south {
		p.fn = 10000000
	}
	return p
}

func (p *utm) meridian(phi float64) float64 {
	c := p.mCoef
	return p.ell.a * (c[0]*phi - c[1]*math.Sin(2*phi) + c[2]*math.Sin(4*phi) - c[3]*math.Sin(6*phi))
}

func (p *utm) Forward(lon, lat float64) (float64, float64) {
	phi := lat * deg
	s, cs, tn := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := p.ell.a / math.Sqrt(1-p.ell.e2*s*s)
	t := tn * tn
	c := p.ep2 * cs * cs
	a := (lon*deg - p.lon0) * cs
	a2 := a * a

	x := p.k0 * n * (a + (1-t+c)*a2*a/6 + (5-18*t+t*t+72*c-58*p.ep2)*a2*a2*a/120)
	y := p.k0 * (p.meridian(phi) + n*tn*(a2/2+(5-t+9*c+4*c*c)*a2*a2/24+(61-58*t+t*t+600*c-330*p.ep2)*a2*a2*a2/720))
	return x + 500000, y + p.fn
}

func (p *utm) Inverse(x, y float64) (float64, float64) {
	e2 := p.ell.e2
	m := (y - p.fn) / p.k0
	mu := m / (p.ell.a * p.mCoef[0])
	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)

	phi1 := mu +
		(3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	s, cs, tn := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	c1 := p.ep2 * cs * cs
	t1 := tn * tn
	one := 1 - e2*s*s
	n1 := p.ell.a / math.Sqrt(one)
	r1 := p.ell.a * (1 - e2) / math.Pow(one, 1.5)
	d := (x - 500000) / (n1 * p.k0)
	d2 := d * d

	lat := phi1 - (n1*tn/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*p.ep2)*d2*d2/24+
		(61+90*t1+298*c1+45*t1*t1-252*p.ep2-3*c1*c1)*d2*d2*d2/720)
	lon := p.lon0 + (d-(1+2*t1+c1)*d2*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*p.ep2+24*t1*t1)*d2*d2*d/120)/cs
	return lon / deg, lat / deg
}

func (p *utm) Geographic() bool { return false }

// Transformer maps coordinates from one EPSG code to another.
type Transformer struct {
	src, dst Projection
	identity bool
}

// NewTransformer builds a transformer between two supported codes.
func NewTransformer(srcEPSG, dstEPSG int) (*Transformer, error) {
	if Equivalent(srcEPSG, dstEPSG) {
		return &Transformer{identity: true}, nil
	}
	src, err := Lookup(srcEPSG)
	if err != nil {
		return nil, err
	}
	dst, err := Lookup(dstEPSG)
	if err != nil {
		return nil, err
	}
	return &Transformer{src: src, dst: dst}, nil
}

// Identity reports whether the transformer leaves coordinates unchanged.
func (t *Transformer) Identity() bool { return t.identity }

// Transform maps one point.
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	lon, lat := t.src.Inverse(x, y)
	return t.dst.Forward(lon, lat)
}

// TransformAll maps parallel coordinate slices into new slices.
func (t *Transformer) TransformAll(xs, ys []float64) ([]float64, []float64) {
	ox := make([]float64, len(xs))
	oy := make([]float64, len(ys))
	for i := range xs {
		ox[i], oy[i] = t.Transform(xs[i], ys[i])
	}
	return ox, oy
}
